package main

import (
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/0xlemi/micnote/internal/audio/portaudio"
	"github.com/0xlemi/micnote/internal/storage/wavfile"
	"github.com/spf13/cobra"
)

func newDevicesCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "devices",
		Short: "List audio input devices",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.load(cmd, false); err != nil {
				return err
			}
			defer a.close()

			inputs, err := portaudio.ListInputs()
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "DEFAULT\tNAME\tHOST API\tCHANNELS\tRATE")
			for _, in := range inputs {
				mark := ""
				if in.Default {
					mark = "*"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%.0f\n", mark, in.Name, in.HostAPI, in.MaxInputChannels, in.DefaultSampleRate)
			}
			return w.Flush()
		},
	}
}

func newRecordsCmd(a *app) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "records",
		Short: "List stored capture records, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.load(cmd, false); err != nil {
				return err
			}
			defer a.close()

			lister, closeStore, err := a.openLister(cmd.Context())
			if err != nil {
				return err
			}
			defer closeStore()

			summaries, err := lister.List(cmd.Context(), limit)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tSESSION\tRECORDED\tRATE\tBYTES\tLENGTH")
			for _, s := range summaries {
				var length time.Duration
				if s.SampleRate > 0 {
					length = time.Duration(s.Bytes/2) * time.Second / time.Duration(s.SampleRate)
				}
				fmt.Fprintf(w, "%d\t%s\t%s\t%d\t%d\t%s\n",
					s.ID, s.SessionID,
					time.UnixMilli(s.RecordedAtMs).Format(time.RFC3339),
					s.SampleRate, s.Bytes, length.Round(time.Millisecond))
			}
			return w.Flush()
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of records to list")
	return cmd
}

func newExportCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "export <id> <file.wav>",
		Short: "Write a stored record to a WAV file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid record id %q", args[0])
			}
			if err := a.load(cmd, false); err != nil {
				return err
			}
			defer a.close()

			lister, closeStore, err := a.openLister(cmd.Context())
			if err != nil {
				return err
			}
			defer closeStore()

			record, err := lister.Get(cmd.Context(), id)
			if err != nil {
				return fmt.Errorf("record %d: %w", id, err)
			}
			if err := wavfile.WriteFile(args[1], record); err != nil {
				return err
			}
			fmt.Fprintf(os.Stderr, "Wrote %s (%s of audio)\n", args[1], record.Duration().Round(time.Millisecond))
			return nil
		},
	}
}
