package commands

import (
	"github.com/spf13/cobra"

	"github.com/mosaicnetworks/sectionnet/src/config"
)

var (
	_config = config.NewDefaultConfig()
)

//RootCmd is the root command for SectionNet
var RootCmd = &cobra.Command{
	Use:              "sectionnet",
	Short:            "sectionnet section node",
	TraverseChildren: true,
}
