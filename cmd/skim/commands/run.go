package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/skimlang/skim/vm"
	"github.com/skimlang/skim/vm/dist"
)

var runFromStore bool

var runCmd = &cobra.Command{
	Use:   "run <image-file | hash>",
	Short: "Execute a compiled image",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := vm.LoadConfig(configPath)
		if err != nil {
			return err
		}

		code, err := loadProgram(cfg, args[0])
		if err != nil {
			return err
		}

		machine := vm.NewVM(cfg)
		if err := machine.Attach(); err != nil {
			return err
		}
		defer machine.Detach()

		log.Infof("running %s (%s) on vm %s", code.Name, code.ContentHash(), machine.Name)

		packet := machine.Eval(code)
		if !packet.Ok() {
			return fmt.Errorf("evaluation raised: %s", vm.ToString(packet.Exception))
		}
		for _, v := range packet.Results {
			fmt.Println(vm.ToString(v))
		}
		return nil
	},
}

// loadProgram reads an image from a file, or from the image store when
// --store is given, and decodes its entry code vector.
func loadProgram(cfg *vm.Config, ref string) (*vm.CompiledCode, error) {
	var img *dist.Image
	if runFromStore {
		store, err := dist.OpenImageStore(cfg.StorePath)
		if err != nil {
			return nil, err
		}
		defer store.Close()
		img, err = store.Load(ref)
		if err != nil {
			return nil, err
		}
	} else {
		data, err := os.ReadFile(ref)
		if err != nil {
			return nil, fmt.Errorf("reading image %s: %w", ref, err)
		}
		img, err = dist.UnmarshalImage(data)
		if err != nil {
			return nil, err
		}
	}
	return dist.Decode(img)
}

func init() {
	runCmd.Flags().BoolVar(&runFromStore, "store", false,
		"treat the argument as a hash in the image store")
	rootCmd.AddCommand(runCmd)
}
