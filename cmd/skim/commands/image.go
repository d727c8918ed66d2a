package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/skimlang/skim/vm"
	"github.com/skimlang/skim/vm/dist"
)

var dumpCmd = &cobra.Command{
	Use:   "dump <image-file>",
	Short: "Disassemble a compiled image",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("reading image %s: %w", args[0], err)
		}
		img, err := dist.UnmarshalImage(data)
		if err != nil {
			return err
		}
		code, err := dist.Decode(img)
		if err != nil {
			return err
		}
		code.Disassemble(os.Stdout)
		return nil
	},
}

var saveCmd = &cobra.Command{
	Use:   "save <image-file>",
	Short: "Save an image file into the image store",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := vm.LoadConfig(configPath)
		if err != nil {
			return err
		}
		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("reading image %s: %w", args[0], err)
		}
		img, err := dist.UnmarshalImage(data)
		if err != nil {
			return err
		}
		store, err := dist.OpenImageStore(cfg.StorePath)
		if err != nil {
			return err
		}
		defer store.Close()
		hash, err := store.Save(img)
		if err != nil {
			return err
		}
		log.Infof("saved image %s to %s", hash, cfg.StorePath)
		fmt.Println(hash)
		return nil
	},
}

var imagesCmd = &cobra.Command{
	Use:   "images",
	Short: "List images in the image store",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := vm.LoadConfig(configPath)
		if err != nil {
			return err
		}
		store, err := dist.OpenImageStore(cfg.StorePath)
		if err != nil {
			return err
		}
		defer store.Close()
		images, err := store.List()
		if err != nil {
			return err
		}
		for hash, name := range images {
			fmt.Printf("%s  %s\n", hash, name)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(dumpCmd)
	rootCmd.AddCommand(saveCmd)
	rootCmd.AddCommand(imagesCmd)
}
