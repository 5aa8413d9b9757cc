// Intake chat server: conversational insurance onboarding over WebSocket.
package main

func main() {
	Execute()
}
