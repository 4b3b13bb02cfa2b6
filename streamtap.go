/*
 *
 *  Licensed under the Apache License, Version 2.0 (the "License");
 *  you may not use this file except in compliance with the License.
 *  You may obtain a copy of the License at
 *
 *      http://www.apache.org/licenses/LICENSE-2.0
 *
 *  Unless required by applicable law or agreed to in writing, software
 *  distributed under the License is distributed on an "AS IS" BASIS,
 *  WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 *  See the License for the specific language governing permissions and
 *  limitations under the License.
 *
 *
 */

package main

import (
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"

	"github.com/google/gopacket"
	"github.com/google/gopacket/pcap"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/glo-fi/Streamtap/anon"
	"github.com/glo-fi/Streamtap/export"
	"github.com/glo-fi/Streamtap/packet"
	promtap "github.com/glo-fi/Streamtap/prom"
	"github.com/glo-fi/Streamtap/tap"
)

const COPYRIGHT = "Licensed under the Apache License, Version 2.0 (the \"License\"); " +
	"you may not use this file except in compliance with the License. " +
	"You may obtain a copy of the License at\n" +
	"\n    http://www.apache.org/licenses/LICENSE-2.0\n"

var (
	fileName       string // Input PCAP filename
	reportInterval int64  // Log progress every n packets
	liveCapture    bool   // Capture live instead of reading a file
	liveInterface  string // Interface for live capture
	bpfFilter      string // Capture filter; must keep non-TCP traffic out
	outputFolder   string // Folder for npy dumps and the summary file
	npyDump        bool   // Buffer metric rows and flush them as .npy
	noisedSummary  bool   // Export a per-stream diffpriv summary at the end
	cryptoPanOn    bool   // Anonymize stream endpoint addresses (Crypto-PAn)
	keyFile        string // Crypto-PAn key file; empty means a random key
	lowPortRoles   bool   // Use the low-port-is-server role heuristic
	metricsListen  string // Prometheus listen address for live capture
	debugLogging   bool
)

func init() {
	flag.Int64Var(&reportInterval, "r", 500000,
		"The interval at which to report the current state of Streamtap")
	flag.BoolVar(&liveCapture, "l", false, "Capture traffic live")
	flag.StringVar(&liveInterface, "i", "eth0", "Interface for live capture")
	flag.StringVar(&bpfFilter, "f", "tcp", "Capture filter (must select TCP only)")
	flag.StringVar(&outputFolder, "o", "results", "Output folder for npy dumps and summaries")
	flag.BoolVar(&npyDump, "d", false, "Dump metric rows to .npy buffers")
	flag.BoolVar(&noisedSummary, "p", false, "Export per-stream summaries with diffpriv noise")
	flag.BoolVar(&cryptoPanOn, "c", false, "Anonymize stream endpoint addresses with Crypto-PAn")
	flag.StringVar(&keyFile, "k", "", "Crypto-PAn key file (32 bytes); random key if unset")
	flag.BoolVar(&lowPortRoles, "s", false, "Assign server role to the lower port instead of first-seen")
	flag.StringVar(&metricsListen, "m", ":9100", "Prometheus listen address (live capture only)")
	flag.BoolVar(&debugLogging, "debug", false, "Enable debug logging")
	flag.Parse()
	fileName = flag.Arg(0)
	if !liveCapture && fileName == "" {
		usage()
		fmt.Fprintln(os.Stderr)
		fmt.Fprintln(os.Stderr, "Missing required filename.")
		os.Exit(2)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, "%s [options] <capture file>\n", os.Args[0])
	fmt.Fprintf(os.Stderr, "options:\n")
	flag.PrintDefaults()
}

func initLogger(debug bool) *slog.Logger {
	logLevel := slog.LevelInfo
	if debug {
		logLevel = slog.LevelDebug
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})
	return slog.New(handler)
}

func openHandle(logger *slog.Logger) *pcap.Handle {
	var (
		p   *pcap.Handle
		err error
	)
	if liveCapture {
		p, err = pcap.OpenLive(liveInterface, 1600, true, pcap.BlockForever)
		if err != nil {
			logger.Error("OpenLive failed", "interface", liveInterface, "error", err)
			os.Exit(1)
		}
	} else {
		p, err = pcap.OpenOffline(fileName)
		if err != nil {
			logger.Error("OpenOffline failed", "file", fileName, "error", err)
			os.Exit(1)
		}
	}
	if err := p.SetBPFFilter(bpfFilter); err != nil {
		logger.Error("SetBPFFilter failed", "filter", bpfFilter, "error", err)
		os.Exit(1)
	}
	return p
}

func collection(logger *slog.Logger) {
	logger.Info("Welcome to Streamtap 0.1", "libpcap", pcap.Version())
	logger.Debug(COPYRIGHT)

	p := openHandle(logger)
	defer p.Close()

	opts := []tap.Option{}
	if lowPortRoles {
		opts = append(opts, tap.WithRoleStrategy(tap.LowPortServer))
	}
	session := tap.NewSession(opts...)

	parserOpts := []packet.Option{}
	if cryptoPanOn {
		cpan, err := newAnonymizer()
		if err != nil {
			logger.Error("Failed to initialize Crypto-PAn", "error", err)
			os.Exit(1)
		}
		parserOpts = append(parserOpts, packet.WithAnonymizer(cpan))
	}
	parser := packet.NewParser(parserOpts...)

	csv := export.NewCSVWriter(os.Stdout)
	if err := csv.WriteHeader(); err != nil {
		logger.Error("Failed to write CSV header", "error", err)
		os.Exit(1)
	}

	var buffer *export.MetricsBuffer
	if npyDump {
		b, err := export.NewMetricsBuffer(outputFolder)
		if err != nil {
			logger.Error("Failed to prepare npy output", "error", err)
			os.Exit(1)
		}
		buffer = b
	}

	var summaries *export.SummarySet
	if noisedSummary {
		summaries = export.NewSummarySet()
	}

	if liveCapture {
		collector := promtap.NewSessionCollector(session)
		prometheus.MustRegister(collector)
		go func() {
			http.Handle("/metrics", promhttp.Handler())
			logger.Info("Serving metrics", "listen", metricsListen)
			if err := http.ListenAndServe(metricsListen, nil); err != nil {
				logger.Error("Metrics server stopped", "error", err)
			}
		}()
	}

	logger.Info("Starting Streamtap")
	var count int64
	packetSource := gopacket.NewPacketSource(p, p.LinkType())
	for raw := range packetSource.Packets() {
		count++
		if count%reportInterval == 0 {
			stats := session.Stats()
			logger.Info("Progress", "packets", stats.Packets, "streams", stats.Streams,
				"advisories", stats.Advisories)
		}

		rec, err := parser.Parse(raw)
		if err != nil {
			// Non-TCP leakage through the capture filter; the engine never
			// sees these packets.
			logger.Debug("Skipping packet", "error", err)
			continue
		}

		m := session.Metrics(rec)
		if err := csv.WriteRecord(rec, m); err != nil {
			logger.Error("Failed to write CSV record", "error", err)
			os.Exit(1)
		}
		if buffer != nil {
			if err := buffer.Append(rec, m); err != nil {
				logger.Error("Failed to buffer npy row", "error", err)
				os.Exit(1)
			}
		}
		if summaries != nil {
			if err := summaries.Observe(rec, m); err != nil {
				logger.Error("Failed to aggregate summary", "error", err)
				os.Exit(1)
			}
		}
	}

	if buffer != nil {
		if err := buffer.Flush(); err != nil {
			logger.Error("Failed to flush npy buffer", "error", err)
			os.Exit(1)
		}
	}
	if summaries != nil {
		if err := exportSummaries(summaries); err != nil {
			logger.Error("Failed to export summaries", "error", err)
			os.Exit(1)
		}
	}

	stats := session.Stats()
	logger.Info("Done", "packets", stats.Packets, "streams", stats.Streams,
		"advisories", stats.Advisories)
}

// newAnonymizer builds the Crypto-PAn context from the key file, or from a
// fresh random key when no file is given. Random-key runs are internally
// consistent but not comparable across captures.
func newAnonymizer() (*anon.Cryptopan, error) {
	if keyFile == "" {
		return anon.New(anon.RandomKey())
	}
	key, err := os.ReadFile(keyFile)
	if err != nil {
		return nil, fmt.Errorf("reading key file %s: %w", keyFile, err)
	}
	return anon.New(key)
}

func exportSummaries(summaries *export.SummarySet) error {
	if err := os.MkdirAll(outputFolder, 0755); err != nil {
		return err
	}
	f, err := os.Create(filepath.Join(outputFolder, "summary.csv"))
	if err != nil {
		return err
	}
	defer f.Close()
	return summaries.Export(f)
}

func main() {
	logger := initLogger(debugLogging)
	slog.SetDefault(logger)
	collection(logger)
}
