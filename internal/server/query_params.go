package server

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	usagedomain "github.com/smallbiznis/gradewise/internal/usage/domain"
	"github.com/smallbiznis/gradewise/pkg/db/pagination"
)

const dateOnlyLayout = "2006-01-02"

func parseOptionalInt(value string) (*int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, nil
	}
	parsed, err := strconv.Atoi(trimmed)
	if err != nil {
		return nil, err
	}
	return &parsed, nil
}

func parseIDParam(c *gin.Context, name string) (snowflake.ID, error) {
	parsed, err := snowflake.ParseString(strings.TrimSpace(c.Param(name)))
	if err != nil || parsed == 0 {
		return 0, newValidationError(name, "invalid_id", "invalid id")
	}
	return parsed, nil
}

func parseOptionalTime(value string, endOfDay bool) (*time.Time, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, nil
	}
	if parsed, err := time.Parse(time.RFC3339, trimmed); err == nil {
		return &parsed, nil
	}
	if parsed, err := time.Parse(dateOnlyLayout, trimmed); err == nil {
		if endOfDay {
			parsed = time.Date(parsed.Year(), parsed.Month(), parsed.Day(), 23, 59, 59, int(time.Second-time.Nanosecond), time.UTC)
		} else {
			parsed = time.Date(parsed.Year(), parsed.Month(), parsed.Day(), 0, 0, 0, 0, time.UTC)
		}
		return &parsed, nil
	}
	return nil, errors.New("invalid_time")
}

// parseUsageFilter reads start_date, end_date, feature, page_token and page_size.
func parseUsageFilter(c *gin.Context) (usagedomain.QueryFilter, error) {
	start, err := parseOptionalTime(c.Query("start_date"), false)
	if err != nil {
		return usagedomain.QueryFilter{}, newValidationError("start_date", "invalid_time", "invalid start_date")
	}
	end, err := parseOptionalTime(c.Query("end_date"), true)
	if err != nil {
		return usagedomain.QueryFilter{}, newValidationError("end_date", "invalid_time", "invalid end_date")
	}
	pageSize, err := parseOptionalInt(c.Query("page_size"))
	if err != nil {
		return usagedomain.QueryFilter{}, newValidationError("page_size", "invalid_page_size", "invalid page_size")
	}

	filter := usagedomain.QueryFilter{
		StartDate: start,
		EndDate:   end,
		Feature:   strings.TrimSpace(c.Query("feature")),
		PageToken: strings.TrimSpace(c.Query("page_token")),
		PageSize:  pagination.DefaultPageSize,
	}
	if pageSize != nil {
		if *pageSize < 1 || *pageSize > pagination.MaxPageSize {
			return usagedomain.QueryFilter{}, newValidationError("page_size", "invalid_page_size", "page_size must be between 1 and 250")
		}
		filter.PageSize = *pageSize
	}
	return filter, nil
}
