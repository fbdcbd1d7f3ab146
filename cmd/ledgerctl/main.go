// Command ledgerctl inspects and audits the document ledger using the same
// environment configuration as the API server.
package main

import "os"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
