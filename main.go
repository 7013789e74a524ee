package main

import "github.com/billoapp/tabz-payments/cmd"

func main() {
	cmd.Execute()
}
