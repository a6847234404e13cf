// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

func newVersionCommand(st *state) *cobra.Command {
	return &cobra.Command{
		Use:         "version",
		Short:       "Print version information",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{annNoApp: annotationTrue},
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(st.out, "medgemma %s\n", Version)
			fmt.Fprintln(st.out, RenderLabel("Commit:")+GitCommit)
			fmt.Fprintln(st.out, RenderLabel("Built:")+BuildDate)
			fmt.Fprintln(st.out, RenderLabel("Go:")+runtime.Version()+" "+runtime.GOOS+"/"+runtime.GOARCH)
		},
	}
}
