package main

import (
	"fmt"

	"github.com/sitsense/posture-agent/cmd"
)

func main() {
	if err := cmd.Run(); err != nil {
		fmt.Println(err.Error())
		return
	}
}
