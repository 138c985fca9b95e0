package actions

import (
	"gitlab.com/paramountdax-exchange/commission_engine/config"
	"gitlab.com/paramountdax-exchange/commission_engine/service"
)

// Actions structure
type Actions struct {
	cfg     config.APIConfig
	service *service.Service
}

// NewActions constructor
func NewActions(cfg config.APIConfig, srv *service.Service) *Actions {
	return &Actions{
		cfg:     cfg,
		service: srv,
	}
}
