// Command diagctl is the headless CLI for the diagnostic engine: connect to
// an ELM327 adapter, list and select ECUs, read snapshots and DTCs, and
// optionally serve the HTTP/WS bridge for a presentation layer.
package main

func main() {
	Execute()
}
