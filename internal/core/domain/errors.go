package domain

import "go.trai.ch/zerr"

var (
	// ErrRequestExecution is returned when a request body fails.
	ErrRequestExecution = zerr.New("request execution failed")

	// ErrWorkerCrashed is returned when a worker process dies while running a task.
	ErrWorkerCrashed = zerr.New("worker crashed")

	// ErrWorkerCrashedTwice is returned when a task crashes its worker again after being redispatched.
	ErrWorkerCrashedTwice = zerr.New("worker crashed again after redispatch")

	// ErrCacheIO is returned when a cache backend cannot be read or written.
	ErrCacheIO = zerr.New("cache i/o failed")

	// ErrInvalidationCycle is returned when a request depends on itself through its subrequests.
	ErrInvalidationCycle = zerr.New("request cycle detected")

	// ErrCacheMiss is returned when a requested item is not found in the cache.
	ErrCacheMiss = zerr.New("cache miss")

	// ErrCorruptEntry is returned when a cache entry cannot be decoded.
	ErrCorruptEntry = zerr.New("corrupt cache entry")

	// ErrStaleEpoch is returned when a worker result belongs to a superseded build.
	ErrStaleEpoch = zerr.New("result belongs to a superseded build")

	// ErrBuildCancelled is returned when a build is cancelled before a request completes.
	ErrBuildCancelled = zerr.New("build cancelled")

	// ErrBuildFinished is returned when a request is issued on a build that already finished.
	ErrBuildFinished = zerr.New("build already finished")

	// ErrBuildInProgress is returned when a build is started while another one is still running.
	ErrBuildInProgress = zerr.New("another build is in progress")

	// ErrQueueRunning is returned when Run is called on a queue that is already running.
	ErrQueueRunning = zerr.New("queue is already running")

	// ErrPoolClosed is returned when a task is submitted to a closed worker pool.
	ErrPoolClosed = zerr.New("worker pool is closed")

	// ErrWorkerSpawnFailed is returned when a worker process cannot be started.
	ErrWorkerSpawnFailed = zerr.New("failed to spawn worker")

	// ErrWorkerProtocol is returned when a worker sends a message that violates the wire contract.
	ErrWorkerProtocol = zerr.New("worker protocol violation")

	// ErrUnknownTaskKind is returned when a worker receives a task kind with no registered handler.
	ErrUnknownTaskKind = zerr.New("unknown task kind")

	// ErrTaskFailed is returned when a worker task reports a failure.
	ErrTaskFailed = zerr.New("task failed")

	// ErrPluginIncompatible is returned when a plugin's engine range excludes the running engine.
	ErrPluginIncompatible = zerr.New("plugin is incompatible with this engine")

	// ErrPluginAlreadyRegistered is returned when two plugins claim the same task kind.
	ErrPluginAlreadyRegistered = zerr.New("plugin already registered")

	// ErrInvalidVersionRange is returned when a plugin declares a malformed version range.
	ErrInvalidVersionRange = zerr.New("invalid version range")

	// ErrJournalCorrupt is returned when a persisted graph record fails its checksum.
	ErrJournalCorrupt = zerr.New("graph journal record is corrupt")

	// ErrJournalReadFailed is returned when the graph journal cannot be read.
	ErrJournalReadFailed = zerr.New("failed to read graph journal")

	// ErrJournalWriteFailed is returned when the graph journal cannot be written.
	ErrJournalWriteFailed = zerr.New("failed to write graph journal")

	// ErrStoreOpenFailed is returned when the embedded database cannot be opened.
	ErrStoreOpenFailed = zerr.New("failed to open embedded store")

	// ErrConfigReadFailed is returned when the config file cannot be read.
	ErrConfigReadFailed = zerr.New("failed to read config file")

	// ErrConfigParseFailed is returned when the config file cannot be parsed.
	ErrConfigParseFailed = zerr.New("failed to parse config file")

	// ErrConfigInvalid is returned when the config file fails validation.
	ErrConfigInvalid = zerr.New("invalid config file")

	// ErrConfigNotFound is returned when the config file cannot be found.
	ErrConfigNotFound = zerr.New("could not find kiln.yaml")

	// ErrMissingDependency is returned when a target references a dependency that doesn't exist.
	ErrMissingDependency = zerr.New("missing dependency")

	// ErrTargetNotFound is returned when a requested target is not defined.
	ErrTargetNotFound = zerr.New("target not found")

	// ErrNoTargetsSpecified is returned when no targets are specified for the build command.
	ErrNoTargetsSpecified = zerr.New("no targets specified")

	// ErrInvalidTargetName is returned when a target name contains invalid characters.
	ErrInvalidTargetName = zerr.New("invalid target name")

	// ErrInputNotFound is returned when a declared input file does not exist.
	ErrInputNotFound = zerr.New("input not found")

	// ErrFileOpenFailed is returned when a file cannot be opened.
	ErrFileOpenFailed = zerr.New("failed to open file")

	// ErrFileHashFailed is returned when hashing a file fails.
	ErrFileHashFailed = zerr.New("failed to hash file content")

	// ErrBuildExecutionFailed is returned when a build finishes with diagnostics.
	ErrBuildExecutionFailed = zerr.New("build execution failed")

	// ErrCommandFailed is returned when an exec task's command exits unsuccessfully.
	ErrCommandFailed = zerr.New("command failed")
)
