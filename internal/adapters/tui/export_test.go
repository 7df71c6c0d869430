package tui

// Export functions for testing
var FlattenTree = flattenTree
