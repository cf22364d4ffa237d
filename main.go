package main

import "bilipub/cmd"

func main() {
	cmd.Execute()
}
