// Package oracle 调用外部评分服务，获取班次与候选人之间的匹配建议以及原始评分矩阵
package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

var (
	ErrTimeout           = errors.New("评分服务请求超时")
	ErrBadStatus         = errors.New("评分服务返回了错误的状态码")
	ErrMalformedResponse = errors.New("评分服务返回的数据格式错误")
)

type ShiftFeatures struct {
	Urgency float64 `json:"urgency"`
}

type CandidateFeatures struct {
	SkillMatch               float64 `json:"skill_match"`
	Preference               float64 `json:"preference"`
	Availability             float64 `json:"availability"`
	AttendanceScore          float64 `json:"attendance_score"`
	RecentSwaps              int32   `json:"recent_swaps"`
	ShiftsAlreadyAssigned    int     `json:"shifts_already_assigned"`
	ShiftsRelativeToAverage  float64 `json:"shifts_relative_to_average"`
	ShiftsNormalized         float64 `json:"shifts_normalized"`
	FairnessScore            float64 `json:"fairness_score"`
	TotalShiftsAssigned      int     `json:"total_shifts_assigned"`
	AverageShiftsPerEmployee float64 `json:"average_shifts_per_employee"`
}

type Request struct {
	Shifts     []ShiftFeatures     `json:"shifts"`
	Candidates []CandidateFeatures `json:"candidates"`
}

// Assignment 中的下标分别对应请求中 Shifts 和 Candidates 的位置
type Assignment struct {
	ShiftIndex     int     `json:"shift_index"`
	CandidateIndex int     `json:"candidate_index"`
	Score          float64 `json:"score"`
}

type Result struct {
	Assignments []Assignment `json:"assignments"`
	RawScores   [][]float64  `json:"raw_scores"` // [shift][candidate]
}

// Suggested 返回预言机为某个班次建议的候选人下标
func (r *Result) Suggested(shiftIndex int) (int, bool) {
	for _, a := range r.Assignments {
		if a.ShiftIndex == shiftIndex {
			return a.CandidateIndex, true
		}
	}
	return 0, false
}

// Score 返回原始评分，不存在时返回 0
func (r *Result) Score(shiftIndex, candidateIndex int) float64 {
	if shiftIndex < 0 || shiftIndex >= len(r.RawScores) {
		return 0
	}
	row := r.RawScores[shiftIndex]
	if candidateIndex < 0 || candidateIndex >= len(row) {
		return 0
	}
	return row[candidateIndex]
}

type Client struct {
	url        string
	httpClient *http.Client
}

func NewClient(url string, timeout time.Duration) *Client {
	return &Client{
		url: url,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// ScoreAndAssign 请求评分服务。任何错误都意味着本次排班应当整体失败
func (c *Client) ScoreAndAssign(ctx context.Context, req *Request) (*Result, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if isTimeout(ctx, err) {
			return nil, fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		return nil, fmt.Errorf("请求评分服务失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("%w: %d %s", ErrBadStatus, resp.StatusCode, bytes.TrimSpace(msg))
	}

	result := &Result{}
	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		if isTimeout(ctx, err) {
			return nil, fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	if err := result.Validate(len(req.Shifts), len(req.Candidates)); err != nil {
		return nil, err
	}

	return result, nil
}

// Validate 检查评分矩阵的形状以及建议中的下标是否越界
func (r *Result) Validate(shiftCount, candidateCount int) error {
	if len(r.Assignments) == 0 {
		return fmt.Errorf("%w: 没有返回任何分配建议", ErrMalformedResponse)
	}

	if len(r.RawScores) != shiftCount {
		return fmt.Errorf("%w: 评分矩阵有 %d 行，应为 %d 行", ErrMalformedResponse, len(r.RawScores), shiftCount)
	}
	for i, row := range r.RawScores {
		if len(row) != candidateCount {
			return fmt.Errorf("%w: 评分矩阵第 %d 行有 %d 列，应为 %d 列", ErrMalformedResponse, i, len(row), candidateCount)
		}
	}

	for _, a := range r.Assignments {
		if a.ShiftIndex < 0 || a.ShiftIndex >= shiftCount {
			return fmt.Errorf("%w: 班次下标 %d 越界", ErrMalformedResponse, a.ShiftIndex)
		}
		if a.CandidateIndex < 0 || a.CandidateIndex >= candidateCount {
			return fmt.Errorf("%w: 候选人下标 %d 越界", ErrMalformedResponse, a.CandidateIndex)
		}
	}

	return nil
}

func isTimeout(ctx context.Context, err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return true
	}
	var netErr interface{ Timeout() bool }
	return errors.As(err, &netErr) && netErr.Timeout()
}
