package main

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/ricesearch/rice-eval/internal/evaluation"
	"github.com/ricesearch/rice-eval/internal/pkg/errors"
)

// datasetRun is one labelled batch of scenarios.
type datasetRun struct {
	Label       string     `yaml:"label"`
	GroundTruth []string   `yaml:"ground_truth"`
	Predictions [][]string `yaml:"predictions"`
}

// datasetFile accepts either a single run at the top level or a list of
// runs. JSON input parses as YAML.
type datasetFile struct {
	Label       string       `yaml:"label"`
	GroundTruth []string     `yaml:"ground_truth"`
	Predictions [][]string   `yaml:"predictions"`
	Runs        []datasetRun `yaml:"runs"`
}

// loadDataset reads runs from path, or from stdin when path is "-".
func loadDataset(path string, stdin io.Reader) ([]evaluation.EvaluateRequest, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("reading dataset: %w", err)
	}

	return parseDataset(data)
}

func parseDataset(data []byte) ([]evaluation.EvaluateRequest, error) {
	var f datasetFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, errors.InvalidRequestError("parsing dataset: " + err.Error())
	}

	runs := f.Runs
	if len(runs) == 0 {
		if f.GroundTruth == nil && f.Predictions == nil {
			return nil, errors.InvalidRequestError("dataset has no runs: expected ground_truth and predictions, or runs")
		}
		runs = []datasetRun{{Label: f.Label, GroundTruth: f.GroundTruth, Predictions: f.Predictions}}
	}

	reqs := make([]evaluation.EvaluateRequest, 0, len(runs))
	for i, r := range runs {
		req := evaluation.EvaluateRequest{
			Label:       r.Label,
			GroundTruth: r.GroundTruth,
			Predictions: r.Predictions,
		}
		if req.GroundTruth == nil {
			req.GroundTruth = []string{}
		}
		if req.Predictions == nil {
			req.Predictions = [][]string{}
		}
		for j := range req.Predictions {
			if req.Predictions[j] == nil {
				req.Predictions[j] = []string{}
			}
		}
		if err := req.Validate(); err != nil {
			return nil, fmt.Errorf("run %d: %w", i+1, err)
		}
		reqs = append(reqs, req)
	}

	return reqs, nil
}
