package common

import "fmt"

// PrintCIResult emits a machine-greppable pass/fail block for CI logs.
func PrintCIResult(ok bool, name string, details []string, err error) {
	status := "PASS"
	if !ok {
		status = "FAIL"
	}
	fmt.Printf("[%s] %s\n", status, name)
	for _, d := range details {
		fmt.Printf("  - %s\n", d)
	}
	if err != nil {
		fmt.Printf("  error: %v\n", err)
	}
}
