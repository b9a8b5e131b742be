package main

import "github.com/scribehub/recordcache/cmd/recordcache/cmd"

func main() {
	cmd.Execute()
}
