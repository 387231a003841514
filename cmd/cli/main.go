package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"os"
	"time"
)

const (
	defaultServerURL = "http://localhost:8080"
	version          = "1.0.0"
)

type CLIConfig struct {
	ServerURL string
	Token     string
	Verbose   bool
}

func main() {
	var (
		serverURL = flag.String("server", defaultServerURL, "Platform server URL")
		token     = flag.String("token", "", "Bearer token (or set SFP_TOKEN)")
		verbose   = flag.Bool("v", false, "Verbose output")
		command   = flag.String("cmd", "", "Command to execute")
		help      = flag.Bool("help", false, "Show help")

		product    = flag.String("product", "", "Product id")
		date       = flag.String("date", "", "Sale date (YYYY-MM-DD)")
		quantity   = flag.Int64("quantity", 0, "Units sold")
		revenue    = flag.Float64("revenue", 0, "Revenue for the day")
		start      = flag.String("start", "", "Range start (YYYY-MM-DD or -720h)")
		end        = flag.String("end", "", "Range end")
		horizon    = flag.Int("horizon", 30, "Forecast horizon in days")
		modelType  = flag.String("model", "auto", "Model type")
		confidence = flag.Float64("confidence", 0.95, "Confidence level (0.90, 0.95, 0.99)")
		onHand     = flag.Int64("on-hand", 0, "Units on hand")
		reorder    = flag.Int64("reorder", 0, "Reorder point")
		safety     = flag.Int64("safety", 0, "Safety stock")
		products   = flag.Int("products", 3, "Demo products to generate")
		days       = flag.Int("days", 120, "Demo days of history")
	)
	flag.Parse()

	if *help || *command == "" {
		showHelp()
		return
	}

	if *token == "" {
		*token = os.Getenv("SFP_TOKEN")
	}
	config := CLIConfig{ServerURL: *serverURL, Token: *token, Verbose: *verbose}

	switch *command {
	case "upload":
		handleUpload(config, *product, *date, *quantity, *revenue)
	case "query":
		handleQuery(config, *product, *start, *end)
	case "forecast":
		handleForecast(config, *product, *horizon, *modelType, *confidence)
	case "train":
		handleTrain(config, *product, *modelType)
	case "models":
		handleModels(config)
	case "inventory":
		handleInventory(config, *product, *onHand, *reorder, *safety)
	case "alerts":
		handleAlerts(config)
	case "stats":
		handleStats(config)
	case "health":
		handleHealth(config)
	case "demo":
		handleDemo(config, *products, *days)
	default:
		fmt.Printf("Unknown command: %s\n", *command)
		showHelp()
		os.Exit(1)
	}
}

func showHelp() {
	fmt.Printf(`Sales Forecasting Platform CLI v%s

USAGE:
    sfp-cli --cmd <command> [options]

COMMANDS:
    upload    - Upload one sales record
    query     - Query sales history for a product
    forecast  - Generate a demand forecast
    train     - Queue model training for a product
    models    - List trained models
    inventory - Set a product's stock position
    alerts    - List open alerts
    stats     - Show platform statistics
    health    - Check platform health
    demo      - Seed demo sales data

EXAMPLES:
    # Upload a sale
    sfp-cli --cmd upload --product SKU-42 --date 2026-08-20 --quantity 12 --revenue 359.88

    # Query the last 30 days
    sfp-cli --cmd query --product SKU-42 --start -720h

    # Forecast two weeks ahead
    sfp-cli --cmd forecast --product SKU-42 --horizon 14 --model auto

    # Train the full ensemble
    sfp-cli --cmd train --product SKU-42 --model ensemble

    # Set stock levels for alerting
    sfp-cli --cmd inventory --product SKU-42 --on-hand 200 --reorder 50 --safety 20

    # Seed demo data and forecast it
    sfp-cli --cmd demo --products 3 --days 120

OPTIONS:
    --server  Server URL (default: %s)
    --token   Bearer token when auth is enabled (or SFP_TOKEN)
    --v       Verbose output
`, version, defaultServerURL)
}

func (c CLIConfig) do(method, path string, body interface{}) ([]byte, int, error) {
	var buf io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, 0, err
		}
		buf = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.ServerURL+path, buf)
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}

	if c.Verbose {
		fmt.Printf("> %s %s\n", method, path)
	}

	client := &http.Client{Timeout: 60 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	return data, resp.StatusCode, err
}

func printResponse(data []byte, status int, err error) {
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	if status >= 400 {
		fmt.Printf("HTTP %d: %s\n", status, bytes.TrimSpace(data))
		os.Exit(1)
	}

	var pretty bytes.Buffer
	if json.Indent(&pretty, data, "", "  ") == nil {
		fmt.Println(pretty.String())
	} else {
		fmt.Println(string(data))
	}
}

func handleUpload(c CLIConfig, product, date string, quantity int64, revenue float64) {
	if product == "" || date == "" {
		fmt.Println("upload requires --product and --date")
		os.Exit(1)
	}
	payload := []map[string]interface{}{{
		"product_id": product,
		"date":       date,
		"quantity":   quantity,
		"revenue":    fmt.Sprintf("%.2f", revenue),
	}}
	printResponse(c.do("POST", "/api/v1/sales", payload))
}

func handleQuery(c CLIConfig, product, start, end string) {
	if product == "" {
		fmt.Println("query requires --product")
		os.Exit(1)
	}
	path := "/api/v1/sales?product_id=" + product
	if start != "" {
		path += "&start=" + start
	}
	if end != "" {
		path += "&end=" + end
	}
	printResponse(c.do("GET", path, nil))
}

func handleForecast(c CLIConfig, product string, horizon int, modelType string, confidence float64) {
	if product == "" {
		fmt.Println("forecast requires --product")
		os.Exit(1)
	}
	printResponse(c.do("POST", "/api/v1/forecast", map[string]interface{}{
		"product_id":       product,
		"horizon_days":     horizon,
		"model_type":       modelType,
		"confidence_level": confidence,
	}))
}

func handleTrain(c CLIConfig, product, modelType string) {
	if product == "" {
		fmt.Println("train requires --product")
		os.Exit(1)
	}
	printResponse(c.do("POST", "/api/v1/models/train", map[string]interface{}{
		"product_id": product,
		"model_type": modelType,
	}))
}

func handleModels(c CLIConfig) {
	printResponse(c.do("GET", "/api/v1/models?active=true", nil))
}

func handleInventory(c CLIConfig, product string, onHand, reorder, safety int64) {
	if product == "" {
		fmt.Println("inventory requires --product")
		os.Exit(1)
	}
	printResponse(c.do("PUT", "/api/v1/inventory/"+product, map[string]interface{}{
		"on_hand":       onHand,
		"reorder_point": reorder,
		"safety_stock":  safety,
	}))
}

func handleAlerts(c CLIConfig) {
	printResponse(c.do("GET", "/api/v1/alerts?acknowledged=false", nil))
}

func handleStats(c CLIConfig) {
	printResponse(c.do("GET", "/api/v1/stats", nil))
}

func handleHealth(c CLIConfig) {
	printResponse(c.do("GET", "/health", nil))
}

// handleDemo seeds products with seasonal, trending sales so forecasts have
// something realistic to chew on.
func handleDemo(c CLIConfig, products, days int) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	start := time.Now().AddDate(0, 0, -days)

	for p := 1; p <= products; p++ {
		productID := fmt.Sprintf("DEMO-%03d", p)
		base := 40.0 + rng.Float64()*60
		trend := rng.Float64()*0.4 - 0.1
		seasonAmp := base * (0.2 + rng.Float64()*0.3)
		price := 10 + rng.Float64()*90

		records := make([]map[string]interface{}, 0, days)
		for d := 0; d < days; d++ {
			day := start.AddDate(0, 0, d)
			seasonal := seasonAmp * math.Sin(2*math.Pi*float64(d)/7.0)
			noise := rng.NormFloat64() * base * 0.08
			qty := int64(math.Max(0, base+trend*float64(d)+seasonal+noise))

			records = append(records, map[string]interface{}{
				"product_id": productID,
				"date":       day.Format("2006-01-02"),
				"quantity":   qty,
				"revenue":    fmt.Sprintf("%.2f", float64(qty)*price),
			})
		}

		data, status, err := c.do("POST", "/api/v1/sales", records)
		if err != nil || status >= 400 {
			printResponse(data, status, err)
			return
		}
		fmt.Printf("Seeded %s with %d days of sales\n", productID, days)
	}

	fmt.Printf("\nTry:\n  sfp-cli --cmd forecast --product DEMO-001 --horizon 14\n")
}
