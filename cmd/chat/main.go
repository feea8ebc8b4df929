// Command chat is a terminal client for the LinkedIn profile assistant. It runs
// the orchestrator in-process against the configured backends.
package main

func main() {
	Execute()
}
