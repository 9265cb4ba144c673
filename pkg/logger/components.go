package logger

// Component name constants for standardized logging.
const (
	// Service components
	ComponentStudyManager = "StudyManager"
	ComponentExecutor     = "Executor"
	ComponentRecycler     = "Recycler"
	ComponentDesigner     = "Designer"

	// Infrastructure components
	ComponentStorage = "Storage"
	ComponentExports = "Exports"
	ComponentConfig  = "Config"
	ComponentMain    = "Main"
)
