package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"imhd2txt/pkg/imhd"
	"imhd2txt/pkg/logging"
	"imhd2txt/pkg/metrics"
	"imhd2txt/pkg/profiling"
	"imhd2txt/pkg/tracing"
	"imhd2txt/pkg/watch"
)

func main() {
	// Command line flags
	var (
		baseURL       = flag.String("base-url", getEnv("IMHD_BASE_URL", imhd.DefaultBaseURL), "imhd.sk base URL")
		interval      = flag.String("interval", getEnv("IMHD_INTERVAL", "120s"), "Refresh interval")
		resolveNames  = flag.Bool("resolve-names", true, "Resolve destination stop ids into names")
		skipPlatforms = flag.Bool("skip-platform-check", false, "Skip validating the platform against the stop's platform list")
		lat           = flag.Float64("lat", 0, "Latitude for nearest-stop lookup (replaces the stop name argument)")
		lng           = flag.Float64("lng", 0, "Longitude for nearest-stop lookup (replaces the stop name argument)")
		once          = flag.Bool("once", false, "Print a single snapshot and exit")
	)

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [options] <stop-name> <routes> <platform>\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "       %s [options] -lat=LAT -lng=LNG <routes> <platform>\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Live Arrival Board Watcher for Bratislava Public Transport\n\n")
		fmt.Fprintf(os.Stderr, "Resolves a stop name into its numeric id on imhd.sk, subscribes to the\n")
		fmt.Fprintf(os.Stderr, "stop's live arrival push channel and prints the upcoming departures for\n")
		fmt.Fprintf(os.Stderr, "the given routes and platform as plain text, refreshed periodically.\n\n")
		fmt.Fprintf(os.Stderr, "Arguments:\n")
		fmt.Fprintf(os.Stderr, "  stop-name  - Stop name or a fragment matching exactly one stop\n")
		fmt.Fprintf(os.Stderr, "  routes     - Route numbers, comma-separated (e.g. 1,4,X72)\n")
		fmt.Fprintf(os.Stderr, "  platform   - Platform to watch (e.g. 1)\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nEnvironment Variables:\n")
		fmt.Fprintf(os.Stderr, "  IMHD_BASE_URL - imhd.sk base URL (default: %s)\n", imhd.DefaultBaseURL)
		fmt.Fprintf(os.Stderr, "  IMHD_INTERVAL - Refresh interval (default: 120s)\n")
		fmt.Fprintf(os.Stderr, "  LOG_LEVEL     - Log level: debug, info, warn, error (default: info)\n")
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  # Watch routes 4 and 9 on platform 1 of Blumentál\n")
		fmt.Fprintf(os.Stderr, "  %s \"Blument\" 4,9 1\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  # Same, from coordinates instead of a name\n")
		fmt.Fprintf(os.Stderr, "  %s -lat=48.1552 -lng=17.1173 4,9 1\n\n", os.Args[0])
	}

	flag.Parse()

	logging.InitLogging()

	byLocation := *lat != 0 || *lng != 0

	args := flag.Args()
	want := 3
	if byLocation {
		want = 2
	}
	if len(args) != want {
		fmt.Fprintf(os.Stderr, "Error: expected %d arguments, got %d.\n\n", want, len(args))
		flag.Usage()
		os.Exit(1)
	}

	var stopName, routesArg, platform string
	if byLocation {
		routesArg, platform = args[0], args[1]
	} else {
		stopName, routesArg, platform = args[0], args[1], args[2]
	}

	// Parse interval
	intervalDuration, err := time.ParseDuration(*interval)
	if err != nil {
		log.Fatalf("Invalid interval format: %v", err)
	}

	// Parse route numbers
	routes := strings.Split(routesArg, ",")
	for i, r := range routes {
		routes[i] = strings.TrimSpace(r)
	}

	// Initialize tracing
	shutdownTracing, err := tracing.InitTracing()
	if err != nil {
		log.Fatalf("Failed to initialize tracing: %v", err)
	}
	defer shutdownTracing()

	// Initialize metrics
	shutdownMetrics, err := metrics.InitMetrics()
	if err != nil {
		log.Fatalf("Failed to initialize metrics: %v", err)
	}
	defer shutdownMetrics()

	// Initialize profiling
	shutdownProfiling, err := profiling.InitProfiling()
	if err != nil {
		log.Fatalf("Failed to initialize profiling: %v", err)
	}
	defer shutdownProfiling()

	client := imhd.NewClient(*baseURL)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var stopID int
	var platforms []string
	if byLocation {
		stop, err := client.NearestStop(ctx, *lat, *lng)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: could not find a stop near %v,%v: %v\n", *lat, *lng, err)
			os.Exit(1)
		}
		stopID = stop.StopID
		for _, p := range stop.Platforms {
			platforms = append(platforms, p.String())
		}
		log.Printf("Nearest stop: %s (%s), id %d, %.0f m away", stop.Name, stop.Code, stopID, stop.Distance)
	} else {
		stopID, err = client.ResolveStopName(ctx, stopName)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: could not resolve %q into a stop id: %v\n", stopName, err)
			os.Exit(1)
		}
		log.Printf("Resolved stop %q to id %d", stopName, stopID)
	}

	if !*skipPlatforms {
		if platforms == nil {
			platforms, err = client.StopPlatforms(ctx, stopID)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: could not load platform list for stop %d: %v\n", stopID, err)
				os.Exit(1)
			}
		}
		if !contains(platforms, platform) {
			fmt.Fprintf(os.Stderr, "Error: stop %d has no platform %q (platforms: %s)\n",
				stopID, platform, strings.Join(platforms, ", "))
			os.Exit(1)
		}
	} else if platforms == nil {
		// Without the check we still need a subscribe set; just the one.
		platforms = []string{platform}
	}

	watcher, err := watch.New(watch.Config{
		BaseURL:      *baseURL,
		StopID:       stopID,
		Platform:     platform,
		Platforms:    platforms,
		Routes:       routes,
		Interval:     intervalDuration,
		ResolveNames: *resolveNames,
		Once:         *once,
	})
	if err != nil {
		log.Fatalf("Failed to create watcher: %v", err)
	}

	log.Printf("Watching stop %d platform %s for routes %v", stopID, platform, routes)
	log.Printf("Refresh interval: %v", intervalDuration)

	// Handle shutdown signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// Start the watch loop in a goroutine
	errChan := make(chan error, 1)
	go func() {
		errChan <- watcher.Run(ctx)
	}()

	// Wait for shutdown signal or error
	select {
	case sig := <-sigChan:
		log.Printf("Received signal %v, shutting down gracefully...", sig)
		cancel()
		select {
		case <-time.After(5 * time.Second):
			log.Println("Shutdown timeout, forcing exit")
		case <-errChan:
			log.Println("Watcher stopped")
		}
	case err := <-errChan:
		if err != nil && err != context.Canceled {
			log.Fatalf("Watcher error: %v", err)
		}
		log.Println("Watcher stopped")
	}

	log.Println("Shutdown complete")
}

func contains(haystack []string, needle string) bool {
	for _, h := range haystack {
		if h == needle {
			return true
		}
		// The board page sometimes lists platforms numerically.
		if n, err := strconv.Atoi(needle); err == nil {
			if m, err := strconv.Atoi(h); err == nil && n == m {
				return true
			}
		}
	}
	return false
}

// getEnv returns the value of an environment variable or a default value if not set
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
