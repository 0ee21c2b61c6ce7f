package orchestrator

// SetForTest installs o as the active backend.
func SetForTest(o ContainerOrchestrator) {
	set(o)
}

// ResetForTest clears the active backend.
func ResetForTest() {
	set(nil)
}
