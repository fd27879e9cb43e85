package config

import (
	"fmt"
	"os"
	"path/filepath"
)

const defaultConfig = `version: 1
agent:
  name: "sales-analytics"
  endpoint: "http://127.0.0.1:8089"
  token_env: "DIA_AGENT_TOKEN"

seed_config: ".dia-harness/seed.yml"

suites:
  train: ".dia-harness/golden.csv"

evaluation:
  repeats: 3
  workers: 10
  failure_policy: worst_repeat

optimization:
  max_iterations: 10
  regression_threshold_pp: 5

judge:
  provider: heuristic

improver:
  provider: heuristic

output:
  dir: ".dia-harness/runs"
  duckdb: ".dia-harness/runs/trajectories.duckdb"
`

const defaultSeed = `instructions: |
  You translate business questions into SQL for the sales warehouse.
  Use the orders table for order facts and join customers on customer_id.
  Revenue is the metric defined by the formula SUM(amount) over completed orders.
  Always aggregate with GROUP BY when a question asks for totals per group.
  Explain the query briefly after writing it.
description: |
  orders(order_id, customer_id, amount, status, created_at)
  customers(customer_id, name, region)
`

const defaultSuite = `id,question,expected_sql
revenue_total,What is the total revenue?,SELECT SUM(amount) FROM orders WHERE status = 'completed'
orders_per_region,How many orders per region?,"SELECT c.region, COUNT(*) FROM orders o JOIN customers c ON o.customer_id = c.customer_id GROUP BY c.region"
top_customer,Who is the top customer by revenue?,"SELECT c.name FROM orders o JOIN customers c ON o.customer_id = c.customer_id GROUP BY c.name ORDER BY SUM(o.amount) DESC LIMIT 1"
`

// Scaffold writes a starter config, seed configuration and golden suite
// under root/.dia-harness. Existing files are never overwritten.
func Scaffold(root string) (string, error) {
	if root == "" {
		return "", fmt.Errorf("root is required")
	}
	dir := ConfigDir(root)
	files := []struct {
		path    string
		content string
	}{
		{ConfigPath(root), defaultConfig},
		{filepath.Join(dir, "seed.yml"), defaultSeed},
		{filepath.Join(dir, "golden.csv"), defaultSuite},
	}
	for _, file := range files {
		if info, err := os.Stat(file.path); err == nil {
			if info.IsDir() {
				return "", fmt.Errorf("path %q is a directory", file.path)
			}
			return "", fmt.Errorf("file already exists at %q", file.path)
		} else if !os.IsNotExist(err) {
			return "", fmt.Errorf("stat %s: %w", file.path, err)
		}
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create config dir: %w", err)
	}
	for _, file := range files {
		if err := os.WriteFile(file.path, []byte(file.content), 0o644); err != nil {
			return "", fmt.Errorf("write %s: %w", file.path, err)
		}
	}
	return ConfigPath(root), nil
}
