package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/shaiso/automata-engine/internal/domain"
)

// jobsFile - формат файла периодических jobs.
//
//	tenants:
//	  1:
//	    - name: retry-sweep
//	      cron: "*/5 * * * *"
//	      item_type: connector.retry
//	      flow_node_instance_id: 42
type jobsFile struct {
	Tenants map[int64][]domain.Job `yaml:"tenants"`
}

// LoadJobs читает периодические jobs по tenant'ам.
func LoadJobs(path string) (map[int64][]domain.Job, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read jobs file: %w", err)
	}
	return ParseJobs(data)
}

// ParseJobs разбирает YAML с jobs и проверяет обязательные поля.
func ParseJobs(data []byte) (map[int64][]domain.Job, error) {
	var f jobsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse jobs: %w", err)
	}

	for tenantID, jobs := range f.Tenants {
		names := make(map[string]bool, len(jobs))
		for _, j := range jobs {
			switch {
			case j.Name == "":
				return nil, fmt.Errorf("tenant %d: job without name", tenantID)
			case names[j.Name]:
				return nil, fmt.Errorf("tenant %d: duplicate job %q", tenantID, j.Name)
			case j.ItemType == "":
				return nil, fmt.Errorf("tenant %d: job %q has no item_type", tenantID, j.Name)
			case !j.IsCron() && !j.IsInterval():
				return nil, fmt.Errorf("tenant %d: job %q needs cron or interval_sec", tenantID, j.Name)
			}
			names[j.Name] = true
		}
	}

	if f.Tenants == nil {
		f.Tenants = make(map[int64][]domain.Job)
	}
	return f.Tenants, nil
}
