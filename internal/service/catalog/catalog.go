package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/andrelucass/fruteira/internal/events"
	"github.com/andrelucass/fruteira/internal/logging"
	"github.com/andrelucass/fruteira/internal/models"
	"github.com/andrelucass/fruteira/internal/upload"
	"github.com/andrelucass/fruteira/internal/util"
)

var (
	ErrValidation = errors.New("validation")
	ErrNotFound   = errors.New("not found")
)

type ProductIndexer interface {
	IndexProduct(ctx context.Context, p models.Product) error
	DeleteProduct(ctx context.Context, id uint) error
}

type EventPublisher interface {
	PublishEvent(ctx context.Context, topic, key string, event any) error
}

// Service is the admin-facing catalog: CRUD plus the side effects that hang
// off it (image cleanup, search indexing, product events). Side effects are
// best-effort, the database row is the source of truth.
type Service struct {
	DB     *gorm.DB
	Images *upload.Store
	Index  ProductIndexer
	Events EventPublisher
}

type ProductInput struct {
	Name        string  `json:"name"`
	Price       float64 `json:"price"`
	Description string  `json:"description"`
	Image       string  `json:"image"`
	Count       int     `json:"count"`
}

func (in ProductInput) validate() error {
	if strings.TrimSpace(in.Name) == "" {
		return fmt.Errorf("product name is required: %w", ErrValidation)
	}
	if in.Price <= 0 {
		return fmt.Errorf("price must be greater than zero: %w", ErrValidation)
	}
	if in.Count < 0 {
		return fmt.Errorf("stock cannot be negative: %w", ErrValidation)
	}
	if in.Image != "" && strings.Contains(in.Image, "://") && !upload.IsImageURL(in.Image) {
		return fmt.Errorf("image URL is malformed: %w", ErrValidation)
	}
	return nil
}

func (s *Service) Create(ctx context.Context, in ProductInput) (*models.Product, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	image := in.Image
	if image == "" {
		image = upload.DefaultImage
	}
	prod := models.Product{
		Name:        strings.TrimSpace(in.Name),
		Price:       in.Price,
		Description: in.Description,
		Image:       image,
		Count:       uint(in.Count),
	}
	if err := s.DB.WithContext(ctx).Create(&prod).Error; err != nil {
		return nil, err
	}

	s.reindex(ctx, prod)
	s.publish(ctx, prod.ID, map[string]any{
		"type":       "product_created",
		"product_id": prod.ID,
		"name":       prod.Name,
	})
	return &prod, nil
}

func (s *Service) Update(ctx context.Context, id uint, in ProductInput) (*models.Product, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	var prod models.Product
	if err := s.DB.WithContext(ctx).First(&prod, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("product %d: %w", id, ErrNotFound)
		}
		return nil, err
	}

	oldImage := prod.Image
	prod.Name = strings.TrimSpace(in.Name)
	prod.Price = in.Price
	prod.Description = in.Description
	prod.Count = uint(in.Count)
	if in.Image != "" {
		prod.Image = in.Image
	}

	if err := s.DB.WithContext(ctx).Save(&prod).Error; err != nil {
		return nil, err
	}

	if s.Images != nil && in.Image != "" && oldImage != prod.Image {
		s.Images.Remove(oldImage)
	}

	s.reindex(ctx, prod)
	s.publish(ctx, prod.ID, map[string]any{
		"type":       "product_updated",
		"product_id": prod.ID,
		"name":       prod.Name,
	})
	return &prod, nil
}

func (s *Service) Delete(ctx context.Context, id uint) error {
	var prod models.Product
	if err := s.DB.WithContext(ctx).First(&prod, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("product %d: %w", id, ErrNotFound)
		}
		return err
	}

	if err := s.DB.WithContext(ctx).Delete(&models.Product{}, id).Error; err != nil {
		return err
	}

	if s.Images != nil {
		s.Images.Remove(prod.Image)
	}
	if s.Index != nil {
		if err := s.Index.DeleteProduct(ctx, id); err != nil {
			logging.FromContext(ctx).Warn("search deindex failed", "product_id", id, "error", err)
		}
	}
	s.publish(ctx, id, map[string]any{
		"type":       "product_deleted",
		"product_id": id,
	})
	return nil
}

func (s *Service) Get(ctx context.Context, id uint) (*models.Product, error) {
	var prod models.Product
	if err := s.DB.WithContext(ctx).First(&prod, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("product %d: %w", id, ErrNotFound)
		}
		return nil, err
	}
	return &prod, nil
}

func (s *Service) List(ctx context.Context, page, size int) ([]models.Product, int64, error) {
	offset, limit := util.Calculate(page, size)

	var total int64
	if err := s.DB.WithContext(ctx).Model(&models.Product{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var items []models.Product
	err := s.DB.WithContext(ctx).
		Model(&models.Product{}).
		Order("id ASC").
		Offset(offset).
		Limit(limit).
		Find(&items).Error
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

func (s *Service) reindex(ctx context.Context, prod models.Product) {
	if s.Index == nil {
		return
	}
	if err := s.Index.IndexProduct(ctx, prod); err != nil {
		logging.FromContext(ctx).Warn("search index failed", "product_id", prod.ID, "error", err)
	}
}

func (s *Service) publish(ctx context.Context, productID uint, event map[string]any) {
	if s.Events == nil {
		return
	}
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := s.Events.PublishEvent(pubCtx, events.TopicProductEvents, fmt.Sprint(productID), event); err != nil {
		logging.FromContext(ctx).Error("event publish failed", "topic", events.TopicProductEvents, "error", err)
	}
}
