// Package models holds the GORM models of the gateway tables. The column
// types are portable so the same models run on Postgres and SQLite.
package models

import (
	"time"

	"gorm.io/datatypes"

	"github.com/xpgateway/backend/internal/domain/gateway"
)

// APIKeyModel stores an API key by its keyed hash
type APIKeyModel struct {
	ID          string                      `gorm:"type:varchar(64);primaryKey"`
	KeyHash     string                      `gorm:"type:varchar(128);uniqueIndex;not null"`
	UserID      string                      `gorm:"type:varchar(64);index;not null"`
	Name        string                      `gorm:"type:varchar(200);not null"`
	Status      string                      `gorm:"type:varchar(20);not null;default:'active'"`
	Tier        string                      `gorm:"type:varchar(50);not null;default:'free'"`
	Permissions datatypes.JSONSlice[string] `gorm:"not null"`
	AllowedIPs  datatypes.JSONSlice[string] `gorm:"not null"`
	ExpiresAt   *time.Time
	LastUsedAt  *time.Time
	CreatedAt   time.Time `gorm:"autoCreateTime"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime"`
}

// TableName returns the table name for the model
func (APIKeyModel) TableName() string { return "api_keys" }

// ToEntity converts the model to a domain entity
func (m *APIKeyModel) ToEntity() *gateway.APIKey {
	return &gateway.APIKey{
		ID:          m.ID,
		UserID:      m.UserID,
		Name:        m.Name,
		Status:      gateway.APIKeyStatus(m.Status),
		Tier:        m.Tier,
		Permissions: []string(m.Permissions),
		AllowedIPs:  []string(m.AllowedIPs),
		ExpiresAt:   m.ExpiresAt,
	}
}

// APIKeyModelFromEntity creates a model from a domain entity
func APIKeyModelFromEntity(k *gateway.APIKey, keyHash string) *APIKeyModel {
	status := k.Status
	if status == "" {
		status = gateway.APIKeyActive
	}
	return &APIKeyModel{
		ID:          k.ID,
		KeyHash:     keyHash,
		UserID:      k.UserID,
		Name:        k.Name,
		Status:      string(status),
		Tier:        k.Tier,
		Permissions: nonNil(k.Permissions),
		AllowedIPs:  nonNil(k.AllowedIPs),
		ExpiresAt:   k.ExpiresAt,
	}
}

// UserModel is a principal that JWT subjects resolve to
type UserModel struct {
	ID        string                      `gorm:"type:varchar(64);primaryKey"`
	Username  string                      `gorm:"type:varchar(100);uniqueIndex;not null"`
	Active    bool                        `gorm:"not null"`
	Scopes    datatypes.JSONSlice[string] `gorm:"not null"`
	CreatedAt time.Time                   `gorm:"autoCreateTime"`
	UpdatedAt time.Time                   `gorm:"autoUpdateTime"`
}

// TableName returns the table name for the model
func (UserModel) TableName() string { return "gateway_users" }

// ToEntity converts the model to a domain entity
func (m *UserModel) ToEntity() *gateway.User {
	return &gateway.User{
		ID:       m.ID,
		Username: m.Username,
		Active:   m.Active,
		Scopes:   []string(m.Scopes),
	}
}

// UserModelFromEntity creates a model from a domain entity
func UserModelFromEntity(u *gateway.User) *UserModel {
	return &UserModel{
		ID:       u.ID,
		Username: u.Username,
		Active:   u.Active,
		Scopes:   nonNil(u.Scopes),
	}
}

// ServiceModel is a registered downstream service
type ServiceModel struct {
	ID                      string                 `gorm:"type:varchar(64);primaryKey"`
	Name                    string                 `gorm:"type:varchar(100);uniqueIndex;not null"`
	HealthPath              string                 `gorm:"type:varchar(255)"`
	Strategy                string                 `gorm:"type:varchar(50);not null"`
	BreakerFailureThreshold int                    `gorm:"not null;default:0"`
	BreakerCooldownMillis   int64                  `gorm:"not null;default:0"`
	Instances               []ServiceInstanceModel `gorm:"foreignKey:ServiceID;constraint:OnDelete:CASCADE"`
	CreatedAt               time.Time              `gorm:"autoCreateTime"`
	UpdatedAt               time.Time              `gorm:"autoUpdateTime"`
}

// TableName returns the table name for the model
func (ServiceModel) TableName() string { return "services" }

// ServiceInstanceModel is one endpoint of a service
type ServiceInstanceModel struct {
	ServiceID  string `gorm:"type:varchar(64);primaryKey"`
	InstanceID string `gorm:"type:varchar(64);primaryKey"`
	Address    string `gorm:"type:varchar(255);not null"`
	Weight     int    `gorm:"not null;default:1"`
	Position   int    `gorm:"not null;default:0"`
}

// TableName returns the table name for the model
func (ServiceInstanceModel) TableName() string { return "service_instances" }

// ToEntity converts the model to a domain entity
func (m *ServiceModel) ToEntity() *gateway.Service {
	svc := &gateway.Service{
		ID:         m.ID,
		Name:       m.Name,
		HealthPath: m.HealthPath,
		Strategy:   gateway.Strategy(m.Strategy),
		Breaker: gateway.BreakerSettings{
			FailureThreshold: m.BreakerFailureThreshold,
			Cooldown:         time.Duration(m.BreakerCooldownMillis) * time.Millisecond,
		},
		Instances: make([]gateway.ServiceInstance, 0, len(m.Instances)),
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
	for _, inst := range m.Instances {
		svc.Instances = append(svc.Instances, gateway.ServiceInstance{
			ID:      inst.InstanceID,
			Address: inst.Address,
			Weight:  inst.Weight,
		})
	}
	return svc
}

// ServiceModelFromEntity creates a model from a domain entity
func ServiceModelFromEntity(s *gateway.Service) *ServiceModel {
	m := &ServiceModel{
		ID:                      s.ID,
		Name:                    s.Name,
		HealthPath:              s.HealthPath,
		Strategy:                string(s.Strategy),
		BreakerFailureThreshold: s.Breaker.FailureThreshold,
		BreakerCooldownMillis:   s.Breaker.Cooldown.Milliseconds(),
		CreatedAt:               s.CreatedAt,
		UpdatedAt:               s.UpdatedAt,
	}
	for i, inst := range s.Instances {
		m.Instances = append(m.Instances, ServiceInstanceModel{
			ServiceID:  s.ID,
			InstanceID: inst.ID,
			Address:    inst.Address,
			Weight:     inst.Weight,
			Position:   i,
		})
	}
	return m
}

// AnalyticsRecordModel is one raw request record. Rows are append-only.
type AnalyticsRecordModel struct {
	ID             uint64    `gorm:"primaryKey;autoIncrement"`
	RequestID      string    `gorm:"type:varchar(64);index;not null"`
	Timestamp      time.Time `gorm:"index;not null"`
	Method         string    `gorm:"type:varchar(10);not null"`
	Path           string    `gorm:"type:varchar(2048);not null"`
	Endpoint       string    `gorm:"type:varchar(512);index;not null"`
	Service        string    `gorm:"type:varchar(100);index"`
	InstanceID     string    `gorm:"type:varchar(64)"`
	UserID         string    `gorm:"type:varchar(64);index"`
	AuthKind       string    `gorm:"type:varchar(20)"`
	ClientIP       string    `gorm:"type:varchar(45)"`
	UserAgent      string    `gorm:"type:text"`
	APIVersion     string    `gorm:"type:varchar(10)"`
	Status         int       `gorm:"not null"`
	Outcome        string    `gorm:"type:varchar(20);not null"`
	ErrorCode      string    `gorm:"type:varchar(50)"`
	ErrorID        string    `gorm:"type:varchar(64)"`
	ResponseTimeUS int64     `gorm:"not null"`
	RequestSize    int64     `gorm:"not null;default:0"`
	ResponseSize   int64     `gorm:"not null;default:0"`
	CacheHit       bool      `gorm:"not null;default:false"`
	Country        string    `gorm:"type:varchar(2)"`
}

// TableName returns the table name for the model
func (AnalyticsRecordModel) TableName() string { return "analytics_records" }

// AnalyticsRecordModelFromEntity creates a model from a domain record
func AnalyticsRecordModelFromEntity(r *gateway.AnalyticsRecord) *AnalyticsRecordModel {
	return &AnalyticsRecordModel{
		RequestID:      r.RequestID,
		Timestamp:      r.Timestamp,
		Method:         r.Method,
		Path:           r.Path,
		Endpoint:       r.Endpoint,
		Service:        r.Service,
		InstanceID:     r.InstanceID,
		UserID:         r.UserID,
		AuthKind:       string(r.AuthKind),
		ClientIP:       r.ClientIP,
		UserAgent:      r.UserAgent,
		APIVersion:     r.APIVersion,
		Status:         r.Status,
		Outcome:        string(r.Outcome),
		ErrorCode:      r.ErrorCode,
		ErrorID:        r.ErrorID,
		ResponseTimeUS: r.ResponseTime.Microseconds(),
		RequestSize:    r.RequestSize,
		ResponseSize:   r.ResponseSize,
		CacheHit:       r.CacheHit,
		Country:        r.Country,
	}
}

// ToEntity converts the model to a domain record
func (m *AnalyticsRecordModel) ToEntity() gateway.AnalyticsRecord {
	return gateway.AnalyticsRecord{
		RequestID:    m.RequestID,
		Timestamp:    m.Timestamp,
		Method:       m.Method,
		Path:         m.Path,
		Endpoint:     m.Endpoint,
		Service:      m.Service,
		InstanceID:   m.InstanceID,
		UserID:       m.UserID,
		AuthKind:     gateway.AuthKind(m.AuthKind),
		ClientIP:     m.ClientIP,
		UserAgent:    m.UserAgent,
		APIVersion:   m.APIVersion,
		Status:       m.Status,
		Outcome:      gateway.Outcome(m.Outcome),
		ErrorCode:    m.ErrorCode,
		ErrorID:      m.ErrorID,
		ResponseTime: time.Duration(m.ResponseTimeUS) * time.Microsecond,
		RequestSize:  m.RequestSize,
		ResponseSize: m.ResponseSize,
		CacheHit:     m.CacheHit,
		Country:      m.Country,
	}
}

// AnalyticsRollupModel aggregates one endpoint over one rollup window
type AnalyticsRollupModel struct {
	ID            uint64    `gorm:"primaryKey;autoIncrement"`
	WindowStart   time.Time `gorm:"uniqueIndex:idx_rollup_window_endpoint;not null"`
	WindowEnd     time.Time `gorm:"not null"`
	Endpoint      string    `gorm:"type:varchar(512);uniqueIndex:idx_rollup_window_endpoint;not null"`
	Service       string    `gorm:"type:varchar(100);index"`
	Requests      int64     `gorm:"not null"`
	Errors        int64     `gorm:"not null"`
	CacheHits     int64     `gorm:"not null"`
	AvgLatencyUS  int64     `gorm:"not null"`
	MinLatencyUS  int64     `gorm:"not null"`
	MaxLatencyUS  int64     `gorm:"not null"`
	P95LatencyUS  int64     `gorm:"not null"`
	P99LatencyUS  int64     `gorm:"not null"`
	ErrorRate     float64   `gorm:"not null"`
	Throughput    float64   `gorm:"not null"` // requests per second over the window
	UniqueClients int64     `gorm:"not null"`
	CreatedAt     time.Time `gorm:"autoCreateTime"`
}

// TableName returns the table name for the model
func (AnalyticsRollupModel) TableName() string { return "analytics_rollups" }

// All lists every model, in migration order
func All() []any {
	return []any{
		&UserModel{},
		&APIKeyModel{},
		&ServiceModel{},
		&ServiceInstanceModel{},
		&AnalyticsRecordModel{},
		&AnalyticsRollupModel{},
	}
}

func nonNil(s []string) datatypes.JSONSlice[string] {
	if s == nil {
		return datatypes.JSONSlice[string]{}
	}
	return datatypes.JSONSlice[string](s)
}

// AnalyticsRollupModelFromEntity creates a model from a domain rollup
func AnalyticsRollupModelFromEntity(r *gateway.AnalyticsRollup) *AnalyticsRollupModel {
	return &AnalyticsRollupModel{
		WindowStart:   r.WindowStart,
		WindowEnd:     r.WindowEnd,
		Endpoint:      r.Endpoint,
		Service:       r.Service,
		Requests:      r.Requests,
		Errors:        r.Errors,
		CacheHits:     r.CacheHits,
		AvgLatencyUS:  r.AvgLatency.Microseconds(),
		MinLatencyUS:  r.MinLatency.Microseconds(),
		MaxLatencyUS:  r.MaxLatency.Microseconds(),
		P95LatencyUS:  r.P95Latency.Microseconds(),
		P99LatencyUS:  r.P99Latency.Microseconds(),
		ErrorRate:     r.ErrorRate,
		Throughput:    r.Throughput,
		UniqueClients: r.UniqueClients,
	}
}

// ToEntity converts the model to a domain rollup
func (m *AnalyticsRollupModel) ToEntity() gateway.AnalyticsRollup {
	us := func(v int64) time.Duration { return time.Duration(v) * time.Microsecond }
	return gateway.AnalyticsRollup{
		WindowStart:   m.WindowStart,
		WindowEnd:     m.WindowEnd,
		Endpoint:      m.Endpoint,
		Service:       m.Service,
		Requests:      m.Requests,
		Errors:        m.Errors,
		CacheHits:     m.CacheHits,
		AvgLatency:    us(m.AvgLatencyUS),
		MinLatency:    us(m.MinLatencyUS),
		MaxLatency:    us(m.MaxLatencyUS),
		P95Latency:    us(m.P95LatencyUS),
		P99Latency:    us(m.P99LatencyUS),
		ErrorRate:     m.ErrorRate,
		Throughput:    m.Throughput,
		UniqueClients: m.UniqueClients,
	}
}
