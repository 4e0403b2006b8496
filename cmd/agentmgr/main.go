package main

import (
	"github.com/Paintersrp/agentmgr/internal/cli"
	"github.com/Paintersrp/agentmgr/internal/metrics"
)

func main() {
	metrics.EmitBuildInfo()
	cli.Execute()
}
