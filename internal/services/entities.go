package services

import (
	"context"
	"strings"

	"github.com/prefeitura-rio/app-resume-cache/internal/models"
	"github.com/prefeitura-rio/app-resume-cache/internal/repository"
	"github.com/prefeitura-rio/app-resume-cache/internal/store"
)

// Users

func (c *CacheService) prepareUser(u *models.UserProfile, creating bool) error {
	if err := u.Normalize(c.settings.PhoneRegion); err != nil {
		return err
	}
	now := c.now()
	if creating || u.CreatedAt.IsZero() {
		u.CreatedAt = now
	}
	u.UpdatedAt = now
	return nil
}

func (c *CacheService) CreateUser(ctx context.Context, user models.UserProfile) (models.UserProfile, error) {
	s, err := c.current()
	if err != nil {
		return user, err
	}
	if err := c.prepareUser(&user, true); err != nil {
		return user, err
	}
	return write(ctx, c, s, s.users, models.MutationCreate, user, priorityUser, nil)
}

func (c *CacheService) GetUser(ctx context.Context, id string) (models.UserProfile, error) {
	s, err := c.current()
	if err != nil {
		return models.UserProfile{}, err
	}
	return lookup(ctx, s, s.users, id)
}

func (c *CacheService) UpdateUser(ctx context.Context, user models.UserProfile) (models.UserProfile, error) {
	s, err := c.current()
	if err != nil {
		return user, err
	}
	if err := c.prepareUser(&user, false); err != nil {
		return user, err
	}
	return write(ctx, c, s, s.users, models.MutationUpdate, user, priorityUser, nil)
}

func (c *CacheService) DeleteUser(ctx context.Context, id string) error {
	s, err := c.current()
	if err != nil {
		return err
	}
	return remove(ctx, c, s, s.users, id, true)
}

// GetUserByEmail matches the email case-insensitively
func (c *CacheService) GetUserByEmail(ctx context.Context, email string) (models.UserProfile, error) {
	s, err := c.current()
	if err != nil {
		return models.UserProfile{}, err
	}
	email = strings.ToLower(strings.TrimSpace(email))
	users, err := s.users.QueryByIndex(ctx, "email", store.Only(email), repository.QueryOptions{Limit: 1})
	if err != nil {
		return models.UserProfile{}, err
	}
	if len(users) == 0 {
		return models.UserProfile{}, models.ErrNotFound
	}
	return users[0], nil
}

// Jobs

func (c *CacheService) prepareJob(j *models.JobPosting, creating bool) {
	now := c.now()
	if creating || j.CreatedAt.IsZero() {
		j.CreatedAt = now
	}
	j.UpdatedAt = now
}

func (c *CacheService) CreateJob(ctx context.Context, job models.JobPosting) (models.JobPosting, error) {
	s, err := c.current()
	if err != nil {
		return job, err
	}
	c.prepareJob(&job, true)
	return write(ctx, c, s, s.jobs, models.MutationCreate, job, priorityJob, nil)
}

func (c *CacheService) GetJob(ctx context.Context, id string) (models.JobPosting, error) {
	s, err := c.current()
	if err != nil {
		return models.JobPosting{}, err
	}
	return lookup(ctx, s, s.jobs, id)
}

func (c *CacheService) UpdateJob(ctx context.Context, job models.JobPosting) (models.JobPosting, error) {
	s, err := c.current()
	if err != nil {
		return job, err
	}
	c.prepareJob(&job, false)
	return write(ctx, c, s, s.jobs, models.MutationUpdate, job, priorityJob, nil)
}

func (c *CacheService) DeleteJob(ctx context.Context, id string) error {
	s, err := c.current()
	if err != nil {
		return err
	}
	return remove(ctx, c, s, s.jobs, id, true)
}

func (c *CacheService) GetJobsByCompany(ctx context.Context, company string, opts repository.QueryOptions) ([]models.JobPosting, error) {
	s, err := c.current()
	if err != nil {
		return nil, err
	}
	return s.jobs.QueryByIndex(ctx, "company", store.Only(company), opts)
}

// GetRecentJobs returns the newest jobs first
func (c *CacheService) GetRecentJobs(ctx context.Context, limit int) ([]models.JobPosting, error) {
	s, err := c.current()
	if err != nil {
		return nil, err
	}
	return s.jobs.QueryByIndex(ctx, "createdAt", store.All(), repository.QueryOptions{Limit: limit, Direction: store.Descending})
}

// Analyses

func (c *CacheService) prepareAnalysis(a *models.AnalysisResult, creating bool) {
	now := c.now()
	if creating || a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	a.UpdatedAt = now
}

func (c *CacheService) CreateAnalysis(ctx context.Context, analysis models.AnalysisResult) (models.AnalysisResult, error) {
	s, err := c.current()
	if err != nil {
		return analysis, err
	}
	c.prepareAnalysis(&analysis, true)
	return write(ctx, c, s, s.analyses, models.MutationCreate, analysis, priorityAnalysis, nil)
}

func (c *CacheService) GetAnalysis(ctx context.Context, id string) (models.AnalysisResult, error) {
	s, err := c.current()
	if err != nil {
		return models.AnalysisResult{}, err
	}
	return lookup(ctx, s, s.analyses, id)
}

func (c *CacheService) UpdateAnalysis(ctx context.Context, analysis models.AnalysisResult) (models.AnalysisResult, error) {
	s, err := c.current()
	if err != nil {
		return analysis, err
	}
	c.prepareAnalysis(&analysis, false)
	return write(ctx, c, s, s.analyses, models.MutationUpdate, analysis, priorityAnalysis, nil)
}

func (c *CacheService) DeleteAnalysis(ctx context.Context, id string) error {
	s, err := c.current()
	if err != nil {
		return err
	}
	return remove(ctx, c, s, s.analyses, id, true)
}

func (c *CacheService) GetAnalysesByUser(ctx context.Context, userID string, opts repository.QueryOptions) ([]models.AnalysisResult, error) {
	s, err := c.current()
	if err != nil {
		return nil, err
	}
	return s.analyses.QueryByIndex(ctx, "userId", store.Only(userID), opts)
}

func (c *CacheService) GetAnalysesByJob(ctx context.Context, jobID string, opts repository.QueryOptions) ([]models.AnalysisResult, error) {
	s, err := c.current()
	if err != nil {
		return nil, err
	}
	return s.analyses.QueryByIndex(ctx, "jobId", store.Only(jobID), opts)
}

// GetRecentAnalyses returns the newest analyses first
func (c *CacheService) GetRecentAnalyses(ctx context.Context, limit int) ([]models.AnalysisResult, error) {
	s, err := c.current()
	if err != nil {
		return nil, err
	}
	return s.analyses.QueryByIndex(ctx, "createdAt", store.All(), repository.QueryOptions{Limit: limit, Direction: store.Descending})
}

// GetAnalysesByScoreRange matches minScore <= score <= maxScore
func (c *CacheService) GetAnalysesByScoreRange(ctx context.Context, minScore, maxScore float64, opts repository.QueryOptions) ([]models.AnalysisResult, error) {
	s, err := c.current()
	if err != nil {
		return nil, err
	}
	return s.analyses.QueryByIndex(ctx, "matchScore", store.Between(minScore, maxScore), opts)
}

// Cached models are downloaded assets and stay local

// SaveModel stores or replaces a model blob. Its ExpiresAt becomes the
// cache entry's explicit expiry.
func (c *CacheService) SaveModel(ctx context.Context, model models.CachedModel) (models.CachedModel, error) {
	s, err := c.current()
	if err != nil {
		return model, err
	}
	if model.CreatedAt.IsZero() {
		model.CreatedAt = c.now()
	}
	model, err = s.models.Update(ctx, model)
	if err != nil {
		return model, err
	}
	return model, c.track(ctx, s, s.models.Name(), model, priorityModel, model.ExpiresAt)
}

func (c *CacheService) GetModel(ctx context.Context, id string) (models.CachedModel, error) {
	s, err := c.current()
	if err != nil {
		return models.CachedModel{}, err
	}
	return lookup(ctx, s, s.models, id)
}

// GetModelByName returns the first stored model with the given name
func (c *CacheService) GetModelByName(ctx context.Context, name string) (models.CachedModel, error) {
	s, err := c.current()
	if err != nil {
		return models.CachedModel{}, err
	}
	found, err := s.models.QueryByIndex(ctx, "name", store.Only(name), repository.QueryOptions{Limit: 1})
	if err != nil {
		return models.CachedModel{}, err
	}
	if len(found) == 0 {
		return models.CachedModel{}, models.ErrNotFound
	}
	return found[0], nil
}

func (c *CacheService) DeleteModel(ctx context.Context, id string) error {
	s, err := c.current()
	if err != nil {
		return err
	}
	return remove(ctx, c, s, s.models, id, false)
}
