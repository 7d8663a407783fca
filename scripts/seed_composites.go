// seed_composites.go seeds composite SLOs from a YAML file via the Weightage API.
//
// Usage:
//
//	go run scripts/seed_composites.go -file composites.yaml -api http://localhost:8700 -account acc_123
//
// File format:
//
//	composites:
//	  - identifier: checkout_health
//	    name: Checkout health
//	    org_identifier: default
//	    project_identifier: shop
//	    selections: [latency_p99, availability, error_rate]
//	    weights: {latency_p99: 50}
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"

	"gopkg.in/yaml.v3"
)

type seedFile struct {
	Composites []seedComposite `yaml:"composites"`
}

type seedComposite struct {
	Identifier        string             `yaml:"identifier"`
	Name              string             `yaml:"name"`
	Description       string             `yaml:"description"`
	OrgIdentifier     string             `yaml:"org_identifier"`
	ProjectIdentifier string             `yaml:"project_identifier"`
	Selections        []string           `yaml:"selections"`
	Weights           map[string]float64 `yaml:"weights"`
}

type selection struct {
	Identifier string `json:"identifier"`
}

type createRequest struct {
	Identifier        string      `json:"identifier"`
	Name              string      `json:"name"`
	Description       string      `json:"description,omitempty"`
	OrgIdentifier     string      `json:"org_identifier,omitempty"`
	ProjectIdentifier string      `json:"project_identifier,omitempty"`
	Selections        []selection `json:"selections"`
}

type created struct {
	ID string `json:"id"`
}

func main() {
	path := flag.String("file", "composites.yaml", "path to seed file")
	apiURL := flag.String("api", "http://localhost:8700", "Weightage API base URL")
	accountID := flag.String("account", "", "X-Account-ID header value")
	dryRun := flag.Bool("dry-run", false, "print composites without posting")
	flag.Parse()

	if *accountID == "" {
		log.Fatal("-account is required")
	}

	data, err := os.ReadFile(*path)
	if err != nil {
		log.Fatalf("read seed file: %v", err)
	}
	var seed seedFile
	if err := yaml.Unmarshal(data, &seed); err != nil {
		log.Fatalf("parse seed file: %v", err)
	}

	fmt.Printf("Loaded %d composites\n", len(seed.Composites))
	if *dryRun {
		for _, c := range seed.Composites {
			fmt.Printf("  %s (%d selections, %d pinned weights)\n", c.Identifier, len(c.Selections), len(c.Weights))
		}
		return
	}

	client := &http.Client{}
	var ok, failed int
	for _, c := range seed.Composites {
		if err := seedOne(client, *apiURL, *accountID, c); err != nil {
			fmt.Printf("  FAIL %s: %v\n", c.Identifier, err)
			failed++
			continue
		}
		fmt.Printf("  OK   %s\n", c.Identifier)
		ok++
	}
	fmt.Printf("\nDone: %d created, %d failed\n", ok, failed)
}

func seedOne(client *http.Client, apiURL, accountID string, c seedComposite) error {
	req := createRequest{
		Identifier:        c.Identifier,
		Name:              c.Name,
		Description:       c.Description,
		OrgIdentifier:     c.OrgIdentifier,
		ProjectIdentifier: c.ProjectIdentifier,
	}
	for _, id := range c.Selections {
		req.Selections = append(req.Selections, selection{Identifier: id})
	}

	var out created
	if err := call(client, http.MethodPost, apiURL+"/api/v1/composites", accountID, req, &out); err != nil {
		return err
	}

	// Pinned weights are applied in file order, each one pinning its selection.
	for i, id := range c.Selections {
		w, ok := c.Weights[id]
		if !ok {
			continue
		}
		url := fmt.Sprintf("%s/api/v1/composites/%s/selections/%d/weight", apiURL, out.ID, i)
		if err := call(client, http.MethodPut, url, accountID, map[string]float64{"weight": w}, nil); err != nil {
			return fmt.Errorf("weight %s: %w", id, err)
		}
	}
	return nil
}

func call(client *http.Client, method, url, accountID string, body, out interface{}) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequest(method, url, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Account-ID", accountID)
	req.Header.Set("X-User-ID", "seed")

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 300 {
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(respBody))
	}
	if out != nil {
		return json.Unmarshal(respBody, out)
	}
	return nil
}
