package core

import (
	"context"
	"fmt"
	"io"

	"clinicdesk/pkg/domain"
)

// AttachPatientImage stores a photo and references it from the patient,
// either as the profile image (replacing any previous one) or as an
// additional image. A patient holds at most domain.MaxPatientImages.
func (s *Service) AttachPatientImage(ctx context.Context, patientID, name string, r io.Reader, profile bool) (domain.Patient, domain.Result, error) {
	if s.images == nil {
		return domain.Patient{}, domain.Result{}, ErrImagesDisabled
	}
	defer s.lock(ctx)()
	current, ok, err := s.store.Patients().Find(ctx, patientID)
	if err != nil {
		return domain.Patient{}, domain.Result{}, err
	}
	if !ok {
		return domain.Patient{}, domain.Result{}, domain.NotFoundError(domain.CollectionPatients, patientID)
	}
	replacing := profile && current.ProfileImage != ""
	if !replacing && len(current.ImageKeys()) >= domain.MaxPatientImages {
		ve := domain.NewValidationError(domain.CollectionPatients)
		ve.Problems = append(ve.Problems, fmt.Sprintf("at most %d images allowed", domain.MaxPatientImages))
		return domain.Patient{}, domain.Result{}, ve
	}
	info, err := s.images.Save(ctx, patientID, name, r)
	if err != nil {
		return domain.Patient{}, domain.Result{}, fmt.Errorf("store image: %w", err)
	}
	var before, after domain.Patient
	var previous string
	found, err := s.store.Patients().Update(ctx, patientID, func(p *domain.Patient) error {
		before = clonePatient(*p)
		if profile {
			previous = p.ProfileImage
			p.ProfileImage = info.Key
		} else {
			p.AdditionalImages = append(p.AdditionalImages, info.Key)
		}
		if err := p.Validate(); err != nil {
			return err
		}
		after = clonePatient(*p)
		return nil
	})
	if err == nil && !found {
		err = domain.NotFoundError(domain.CollectionPatients, patientID)
	}
	if err != nil {
		_ = s.images.Remove(ctx, info.Key)
		return domain.Patient{}, domain.Result{}, err
	}
	if previous != "" {
		if err := s.images.Remove(ctx, previous); err != nil {
			s.log.Warn().Err(err).Str("key", previous).Msg("remove replaced profile image")
		}
	}
	res := s.commit(ctx, domain.Change{
		Collection: domain.CollectionPatients,
		Action:     domain.ActionUpdate,
		EntityID:   patientID,
		Before:     before,
		After:      after,
		Origin:     domain.OriginPatientEdit,
	})
	return after, res, nil
}

// RemovePatientImage drops key from the patient and deletes the blob.
func (s *Service) RemovePatientImage(ctx context.Context, patientID, key string) (domain.Patient, domain.Result, error) {
	if s.images == nil {
		return domain.Patient{}, domain.Result{}, ErrImagesDisabled
	}
	defer s.lock(ctx)()
	var before, after domain.Patient
	found, err := s.store.Patients().Update(ctx, patientID, func(p *domain.Patient) error {
		before = clonePatient(*p)
		matched := false
		if p.ProfileImage == key {
			p.ProfileImage = ""
			matched = true
		}
		kept := p.AdditionalImages[:0]
		for _, k := range p.AdditionalImages {
			if k == key {
				matched = true
				continue
			}
			kept = append(kept, k)
		}
		p.AdditionalImages = kept
		if !matched {
			return fmt.Errorf("patient %s image %s: %w", patientID, key, domain.ErrNotFound)
		}
		after = clonePatient(*p)
		return nil
	})
	if err != nil {
		return domain.Patient{}, domain.Result{}, err
	}
	if !found {
		return domain.Patient{}, domain.Result{}, domain.NotFoundError(domain.CollectionPatients, patientID)
	}
	if err := s.images.Remove(ctx, key); err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("remove patient image")
	}
	res := s.commit(ctx, domain.Change{
		Collection: domain.CollectionPatients,
		Action:     domain.ActionUpdate,
		EntityID:   patientID,
		Before:     before,
		After:      after,
		Origin:     domain.OriginPatientEdit,
	})
	return after, res, nil
}
