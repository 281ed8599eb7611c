package handler

import (
	"database/sql"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"time"

	"github.com/sysu-ecnc-dev/ad-planner/backend/internal/dataset"
	"github.com/sysu-ecnc-dev/ad-planner/backend/internal/domain"
	"github.com/sysu-ecnc-dev/ad-planner/backend/internal/regression"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

func (h *Handler) GetAllClickModels(w http.ResponseWriter, r *http.Request) {
	models, err := h.repository.GetAllClickModels()
	if err != nil {
		h.internalServerError(w, r, err)
		return
	}

	h.successResponse(w, r, "获取点击量模型成功", models)
}

func (h *Handler) GetLatestClickModel(w http.ResponseWriter, r *http.Request) {
	model, err := h.repository.GetLatestClickModel()
	if err != nil {
		switch {
		case errors.Is(err, sql.ErrNoRows):
			h.successResponse(w, r, "还没有点击量模型", nil)
		default:
			h.internalServerError(w, r, err)
		}
		return
	}

	h.successResponse(w, r, "获取点击量模型成功", model)
}

// FitClickModel 请求体是历史投放数据（CSV 或 XLSX），拟合后保存为新的模型
// 查询参数: name 模型名称，sheet 工作表名称（仅 XLSX）
func (h *Handler) FitClickModel(w http.ResponseWriter, r *http.Request) {
	body := http.MaxBytesReader(w, r.Body, h.config.Server.MaxUploadSize)

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))

	var (
		observations []domain.Observation
		err          error
	)
	switch mediaType {
	case xlsxContentType:
		observations, err = dataset.ReadXLSX(body, r.URL.Query().Get("sheet"))
	default:
		observations, err = dataset.ReadCSV(body)
	}
	if err != nil {
		var maxBytesErr *http.MaxBytesError
		switch {
		case errors.As(err, &maxBytesErr):
			h.errorResponse(w, r, fmt.Sprintf("文件大小不能超过 %d 字节", maxBytesErr.Limit))
		default:
			h.badRequest(w, r, err)
		}
		return
	}

	result, err := regression.Fit(observations, regression.DefaultFeatures)
	if err != nil {
		switch {
		case errors.Is(err, regression.ErrNotEnoughObservations), errors.Is(err, regression.ErrSingularDesign):
			h.badRequest(w, r, err)
		default:
			h.internalServerError(w, r, err)
		}
		return
	}

	name := r.URL.Query().Get("name")
	if name == "" {
		name = fmt.Sprintf("点击量模型 %s", time.Now().Format("2006-01-02 15:04"))
	}

	record := result.Model.ToClickModel(name)
	record.RSquared = result.RSquared
	record.Observations = result.Observations
	if err := h.repository.InsertClickModel(record); err != nil {
		h.internalServerError(w, r, err)
		return
	}

	h.successResponse(w, r, "拟合点击量模型成功", record)
}
