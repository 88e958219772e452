// Command cvservice watches a camera, recognizes faces against the identity
// database and reports them on the message bus.
package main

func main() {
	Execute()
}
