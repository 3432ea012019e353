package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/voicestream/voicestream/voice"
	"github.com/voicestream/voicestream/voice/ogg"
)

var (
	probeVerifyCRC bool
	probePages     bool
)

var probeCmd = &cobra.Command{
	Use:   "probe <file.ogg>",
	Short: "Print the page and packet layout of an Ogg/Opus file",
	Long: `Demux an Ogg/Opus file offline, the same way playback does, and print
page and packet statistics.

Examples:
  voicestream probe song.ogg
  voicestream probe --verify-crc --pages song.ogg`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := os.Open(args[0])
		if err != nil {
			return errors.Wrap(err, "failed to open file")
		}
		defer f.Close()

		stats, err := probe(f, probeVerifyCRC, func(p *ogg.Page) {
			if probePages {
				fmt.Fprintln(cmd.OutOrStdout(), p)
			}
		})
		if err != nil {
			return err
		}

		stats.print(cmd.OutOrStdout())
		return nil
	},
}

func init() {
	probeCmd.Flags().BoolVar(&probeVerifyCRC, "verify-crc", false, "verify page checksums")
	probeCmd.Flags().BoolVar(&probePages, "pages", false, "print every page header")
}

type probeStats struct {
	Pages     int
	Headers   int
	Packets   int
	Bytes     int
	Largest   int
	Granule   int64
	Truncated bool
}

// probe demuxes r. onPage sees every page before its packets are counted.
func probe(r io.Reader, verifyCRC bool, onPage func(*ogg.Page)) (probeStats, error) {
	var stats probeStats

	d := ogg.NewDemuxer(r)
	d.VerifyChecksum = verifyCRC

	var buf []byte

	for {
		page, err := d.ReadPage()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			if errors.Is(err, ogg.ErrTruncated) {
				stats.Truncated = true
				break
			}
			return stats, err
		}

		stats.Pages++
		stats.Granule = page.Granule

		if onPage != nil {
			onPage(page)
		}

		body := page.Body
		for _, seg := range page.Segments {
			buf = append(buf, body[:seg]...)
			body = body[seg:]

			if seg == 255 {
				continue
			}

			if ogg.IsOpusHeader(buf) {
				stats.Headers++
			} else {
				stats.Packets++
				stats.Bytes += len(buf)
				if len(buf) > stats.Largest {
					stats.Largest = len(buf)
				}
			}
			buf = buf[:0]
		}

		if page.IsEOS() {
			break
		}
	}

	return stats, nil
}

func (s probeStats) print(w io.Writer) {
	fmt.Fprintf(w, "pages:     %d\n", s.Pages)
	fmt.Fprintf(w, "headers:   %d\n", s.Headers)
	fmt.Fprintf(w, "packets:   %d\n", s.Packets)
	fmt.Fprintf(w, "duration:  %s\n", voice.FrameDuration*time.Duration(s.Packets))
	if s.Packets > 0 {
		fmt.Fprintf(w, "avg size:  %d bytes\n", s.Bytes/s.Packets)
		fmt.Fprintf(w, "max size:  %d bytes\n", s.Largest)
	}
	fmt.Fprintf(w, "granule:   %d\n", s.Granule)
	if s.Truncated {
		fmt.Fprintln(w, "warning:   stream ends without an end-of-stream page")
	}
}
