package main

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"arrow-client/config"
	"arrow-client/netmon"
)

func identityCmd() *cobra.Command {
	var regenerate bool
	cmd := &cobra.Command{
		Use:   "identity",
		Short: "显示（或重新生成）注册所需的客户端身份与 MAC 地址",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath(cmd))
			if err != nil {
				return err
			}
			var id config.Identity
			if regenerate {
				id = config.Identity{UUID: uuid.NewString(), Passphrase: uuid.NewString()}
				if err := config.SaveIdentity(cfg.Arrow.IdentityFile, id); err != nil {
					return err
				}
			} else if id, err = config.EnsureIdentity(cfg.Arrow.IdentityFile); err != nil {
				return err
			}

			mac := cfg.Arrow.MAC
			if mac == "" {
				if mac, err = netmon.HardwareAddr(cfg.Arrow.Interface); err != nil {
					mac = "unknown (" + err.Error() + ")"
				}
			}
			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(out, "uuid:       %s\n", id.UUID)
			_, _ = fmt.Fprintf(out, "passphrase: %s\n", id.Passphrase)
			_, _ = fmt.Fprintf(out, "mac:        %s\n", mac)
			return nil
		},
	}
	cmd.Flags().BoolVar(&regenerate, "regenerate", false, "生成新的 UUID 与 passphrase 并覆盖身份文件")
	return cmd
}
