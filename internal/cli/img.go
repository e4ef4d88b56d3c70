package cli

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var imgCmd = &cobra.Command{
	Use:   "img",
	Short: "Manage OVA images",
}

var imgListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all available images",
	Args:  cobra.NoArgs,
	RunE:  runImgList,
}

var imgImportCmd = &cobra.Command{
	Use:   "import <imgFile>",
	Short: "Import image. Make available to this program",
	Args:  cobra.ExactArgs(1),
	RunE:  runImgImport,
}

var imgDelCmd = &cobra.Command{
	Use:   "del <imgName>",
	Short: "Delete image",
	Args:  cobra.ExactArgs(1),
	RunE:  runImgDel,
}

func init() {
	imgDelCmd.Flags().BoolP("force", "f", false, "Do not ask for confirmation")

	imgCmd.AddCommand(imgListCmd)
	imgCmd.AddCommand(imgImportCmd)
	imgCmd.AddCommand(imgDelCmd)
	rootCmd.AddCommand(imgCmd)
}

func runImgList(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	images, err := a.images.List()
	if err != nil {
		return err
	}
	if len(images) == 0 {
		return nil
	}
	fmt.Fprintf(a.out, "%-20s%-54s%s\n", "NAME", "FILE", "SIZE")
	for _, img := range images {
		fmt.Fprintf(a.out, "%-20s%-54s%s\n", img.Name, img.Path, humanize.Bytes(uint64(img.Size)))
	}
	return nil
}

func runImgImport(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	dst, err := a.images.Import(args[0])
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Imported %s\n", dst)
	return nil
}

func runImgDel(cmd *cobra.Command, args []string) error {
	force, _ := cmd.Flags().GetBool("force")
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	if !force && !a.confirm("Are you sure you want to delete %s?", nameColor(args[0])) {
		return errAborted
	}
	return a.images.Delete(args[0])
}
