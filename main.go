package main

import "github.com/iksnae/sockdebug/cmd"

func main() {
	cmd.Execute()
}
