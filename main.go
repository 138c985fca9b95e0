package main

import "gitlab.com/paramountdax-exchange/commission_engine/cmd"

func main() {
	cmd.Execute()
}
