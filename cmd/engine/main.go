// Command engine is the operator CLI: migrations, manual bonus runs, wallet audits
// and plan inspection.
package main

func main() {
	Execute()
}
