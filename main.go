package main

import (
	"github.com/xQUANTUMTECH/ai-simulation2-sub002/cmd"
	"github.com/xQUANTUMTECH/ai-simulation2-sub002/internal/logging"
)

func main() {
	logging.Init()
	cmd.Execute()
}
