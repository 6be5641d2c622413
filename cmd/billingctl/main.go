// Command billingctl is the operator CLI for the inference billing service:
// compaction, exports, dashboards, facilitator health and balances.
package main

import "os"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
