package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	persistlog "outpost.client/internal/persistence/log"
)

func main() {
	var (
		recDir  = flag.String("recordings", "./data/recordings", "directory containing frames-*.jsonl.zst")
		file    = flag.String("file", "", "replay a single recording file instead of -recordings")
		session = flag.String("session", "", "only replay frames of this session id")
		verbose = flag.Bool("v", false, "print every domain event")
		sustain = flag.String("sustained", "build,repair", "comma-separated sustained actions")
		index   = flag.String("index", "", "session index sqlite path; lists sessions, clock samples and leaves after the replay")
		limit   = flag.Int("limit", 20, "max sessions listed from -index")
	)
	flag.Parse()

	files := []string{*file}
	if *file == "" {
		var err error
		files, err = persistlog.RecordingFiles(*recDir)
		if err != nil {
			fmt.Fprintln(os.Stderr, "list recordings:", err)
			os.Exit(1)
		}
	}
	if len(files) == 0 && *index == "" {
		fmt.Fprintln(os.Stderr, "no recordings found in", *recDir)
		os.Exit(1)
	}

	if len(files) > 0 {
		r := newReplayer(splitList(*sustain), *session, *verbose, os.Stdout)
		for _, path := range files {
			if err := r.replayFile(path); err != nil {
				fmt.Fprintln(os.Stderr, "replay:", err)
				os.Exit(1)
			}
		}
		r.summary(os.Stdout)
		fmt.Fprintln(os.Stdout)
	}

	if *index != "" {
		if err := printSessions(context.Background(), os.Stdout, *index, *session, *limit); err != nil {
			fmt.Fprintln(os.Stderr, "index:", err)
			os.Exit(1)
		}
	}
}
