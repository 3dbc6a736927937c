package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"solagent/sdk/go/solagent"
)

// Lists capabilities, then queues a TPS query and waits for it.
// Point SOLAGENT_URL at a running solagentd (default http://localhost:8080)
// and set SOLAGENT_API_KEY when the server runs with auth.mode api_key.
func main() {
	baseURL := os.Getenv("SOLAGENT_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}
	client, err := solagent.NewClient(baseURL, nil)
	if err != nil {
		log.Fatal(err)
	}
	client.SetAPIKey(os.Getenv("SOLAGENT_API_KEY"))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	caps, err := client.ListCapabilities(ctx)
	if err != nil {
		log.Fatal(err)
	}
	for _, c := range caps {
		fmt.Printf("%-28s aliases=%v\n", c.Name, c.Aliases)
	}

	task, err := client.SubmitTask(ctx, solagent.Submission{Task: "get_tps"})
	if err != nil {
		log.Fatal(err)
	}
	fmt.Printf("queued task %s\n", task.ID)

	done, err := client.WaitForTask(ctx, task.ID, time.Second)
	if err != nil {
		log.Fatal(err)
	}
	if done.Result != nil {
		fmt.Printf("task %s %s: %s\n", done.ID, done.Status, done.Result.Output)
		return
	}
	fmt.Printf("task %s %s: %s\n", done.ID, done.Status, done.LastError)
}
