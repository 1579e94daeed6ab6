package main

import (
	"github.com/vrflottery/lottery/cmd"
)

func main() {
	cmd.Execute()
}
