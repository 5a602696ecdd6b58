// Command lexledger operates a billing ledger and document vault from the
// shell: migrations, overdue sweeps, summaries, document export and a
// metrics endpoint.
package main

func main() {
	Execute()
}
