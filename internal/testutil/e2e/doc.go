// Package e2e runs the storyflow binary against isolated workspaces.
//
// A Harness owns a temporary project with the standard .storyflow layout,
// a non-interactive config and a fake text generator script:
//
//	h := e2e.NewHarness(t)
//	h.WriteWorkflow("plan", planYAML)
//	stdout, stderr, err := h.Run("run", "plan", "--input", "goal=ship")
//
// Long-running invocations can be started in the background and
// interrupted, which is how resume after Ctrl-C is tested:
//
//	proc, _ := h.Start("run", "plan")
//	h.WaitForFile(h.StartedFile, 5*time.Second)
//	proc.Signal(os.Interrupt)
//	proc.WaitWithTimeout(10 * time.Second)
//
// The binary is built once per test run; see BuildBinary.
package e2e
