package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"rccrawler/internal/captcha"
)

func newTesseractCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tesseract",
		Short: "tesseract OCR helpers",
	}

	var dir, name, whitelist string
	install := &cobra.Command{
		Use:   "install-config",
		Short: "install the tesseract config restricting captcha answers to uppercase letters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if dir == "" {
				cfg, err := a.config()
				if err != nil {
					return err
				}
				dir = cfg.TessdataDir
			}
			if dir == "" {
				var err error
				if dir, err = captcha.TessdataDir(); err != nil {
					return fmt.Errorf("%w, set TESSDATA_PREFIX or pass --tessdata", err)
				}
			}
			path, err := captcha.InstallConfig(dir, name, whitelist)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "installed %s\n", path)
			return nil
		},
	}
	install.Flags().StringVar(&dir, "tessdata", "", "tessdata directory (default TESSDATA_PREFIX or the system one)")
	install.Flags().StringVar(&name, "name", captcha.UppercaseConfig, "config name")
	install.Flags().StringVar(&whitelist, "whitelist", captcha.UppercaseWhitelist, "characters tesseract may recognise")

	cmd.AddCommand(install)
	return cmd
}
