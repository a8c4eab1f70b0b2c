package main

import "github.com/pkgfs-project/pkgfsd/internal/cli"

func main() {
	cli.Execute()
}
