package main

import "github.com/andresmejia3/maskguard/cmd"

func main() {
	cmd.Execute()
}
