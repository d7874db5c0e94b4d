// Copyright © 2024 The ELPS authors

package main

import "github.com/luthersystems/lenswait/cmd"

func main() {
	cmd.Execute()
}
