package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/forgeline/foreman/internal/prd"
	"github.com/forgeline/foreman/internal/specpipe"
)

// CreateClient inserts a client row.
func (s *Store) CreateClient(c *Client) error {
	_, err := s.conn.Exec(
		`INSERT INTO clients (id, name, constitution, constitution_generated_at) VALUES (?, ?, ?, ?)`,
		c.ID, c.Name, c.Constitution, c.ConstitutionGeneratedAt)
	if err != nil {
		return fmt.Errorf("failed to create client: %w", err)
	}
	return nil
}

// GetClient retrieves a client by id. Returns nil, nil if missing.
func (s *Store) GetClient(id string) (*Client, error) {
	var c Client
	err := s.conn.QueryRow(
		`SELECT id, name, constitution, constitution_generated_at FROM clients WHERE id = ?`, id).
		Scan(&c.ID, &c.Name, &c.Constitution, &c.ConstitutionGeneratedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get client: %w", err)
	}
	return &c, nil
}

// SetClientConstitution stores the generated constitution markdown and
// stamps the generation time.
func (s *Store) SetClientConstitution(id, constitution string) error {
	_, err := s.conn.Exec(
		`UPDATE clients SET constitution = ?, constitution_generated_at = ? WHERE id = ?`,
		constitution, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to set constitution: %w", err)
	}
	return nil
}

// ClearClientConstitution drops the stored constitution so the next
// constitution phase regenerates it.
func (s *Store) ClearClientConstitution(id string) error {
	_, err := s.conn.Exec(
		`UPDATE clients SET constitution = NULL, constitution_generated_at = NULL WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to clear constitution: %w", err)
	}
	return nil
}

// CreateFeature inserts a feature row.
func (s *Store) CreateFeature(f *Feature) error {
	prdJSON, err := marshalJSON(nilDoc(f.PRD))
	if err != nil {
		return err
	}
	outJSON, err := marshalJSON(nilOutput(f.SpecOutput))
	if err != nil {
		return err
	}
	_, err = s.conn.Exec(
		`INSERT INTO features
			(id, client_id, title, functionality_notes, client_context,
			 feature_type_id, prd, spec_output, spec_phase, feature_workflow_stage_id)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		f.ID, f.ClientID, f.Title, f.FunctionalityNotes, f.ClientContext,
		f.FeatureTypeID, prdJSON, outJSON, nullPhase(f.SpecPhase), f.WorkflowStageID)
	if err != nil {
		return fmt.Errorf("failed to create feature: %w", err)
	}
	return nil
}

// GetFeature retrieves a feature by id. Returns nil, nil if missing.
func (s *Store) GetFeature(id string) (*Feature, error) {
	var (
		f                Feature
		prdJSON, outJSON sql.NullString
		phase            sql.NullString
	)
	err := s.conn.QueryRow(
		`SELECT id, client_id, title, functionality_notes, client_context,
			feature_type_id, prd, spec_output, spec_phase, feature_workflow_stage_id
		 FROM features WHERE id = ?`, id).
		Scan(&f.ID, &f.ClientID, &f.Title, &f.FunctionalityNotes, &f.ClientContext,
			&f.FeatureTypeID, &prdJSON, &outJSON, &phase, &f.WorkflowStageID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get feature: %w", err)
	}
	if phase.Valid {
		f.SpecPhase = specpipe.Phase(phase.String)
	}
	if prdJSON.Valid && prdJSON.String != "" {
		f.PRD = &prd.Document{}
		if err := unmarshalJSON(prdJSON, f.PRD); err != nil {
			return nil, err
		}
	}
	if outJSON.Valid && outJSON.String != "" {
		f.SpecOutput = &specpipe.Output{}
		if err := unmarshalJSON(outJSON, f.SpecOutput); err != nil {
			return nil, err
		}
	}
	return &f, nil
}

// SetFeaturePRD stores the generated PRD document on a feature.
func (s *Store) SetFeaturePRD(id string, doc *prd.Document) error {
	data, err := marshalJSON(nilDoc(doc))
	if err != nil {
		return err
	}
	if _, err := s.conn.Exec(`UPDATE features SET prd = ? WHERE id = ?`, data, id); err != nil {
		return fmt.Errorf("failed to set feature prd: %w", err)
	}
	return nil
}

// SetFeatureSpecOutput stores the accumulated pipeline output and the
// phase it has reached.
func (s *Store) SetFeatureSpecOutput(id string, out *specpipe.Output) error {
	data, err := marshalJSON(nilOutput(out))
	if err != nil {
		return err
	}
	var phase any
	if out != nil {
		phase = nullPhase(out.Phase)
	}
	_, err = s.conn.Exec(
		`UPDATE features SET spec_output = ?, spec_phase = ? WHERE id = ?`, data, phase, id)
	if err != nil {
		return fmt.Errorf("failed to set feature spec output: %w", err)
	}
	return nil
}

// SetFeatureWorkflowStage records the pipeline stage code shown to the
// authoring side, e.g. "clarify_waiting" or "plan_complete".
func (s *Store) SetFeatureWorkflowStage(id, stage string) error {
	_, err := s.conn.Exec(
		`UPDATE features SET feature_workflow_stage_id = ? WHERE id = ?`, stage, id)
	if err != nil {
		return fmt.Errorf("failed to set workflow stage: %w", err)
	}
	return nil
}
