package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"brigade/internal/domain"
	"brigade/internal/engine"
)

type rolePath struct {
	RoleID string `path:"role_id"`
}

func registerRoles(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-role",
		Method:        http.MethodPost,
		Path:          "/roles",
		Summary:       "Create role",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		Body CreateRoleRequest `json:"body"`
	}) (*struct {
		Body domain.Role `json:"body"`
	}, error) {
		if err := requireBody(ctx); err != nil {
			return nil, err
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		role, err := e.CreateRole(ctx, engine.RoleCreateOptions{ID: input.Body.ID, Name: input.Body.Name, ActorID: actorID})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Role `json:"body"`
		}{Body: role}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-roles",
		Method:      http.MethodGet,
		Path:        "/roles",
		Summary:     "List roles",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Status             string `query:"status"`
		IncludePlaceholder bool   `query:"include_placeholder"`
	}) (*struct {
		Body []domain.Role `json:"body"`
	}, error) {
		var status domain.RoleStatus
		if input.Status != "" {
			s, err := domain.ParseRoleStatus(input.Status)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", err.Error(), nil)
			}
			status = s
		}
		roles, err := e.Repo.ListRoles(ctx, status, input.IncludePlaceholder)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Role `json:"body"`
		}{Body: roles}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-role",
		Method:      http.MethodGet,
		Path:        "/roles/{role_id}",
		Summary:     "Get role",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *rolePath) (*struct {
		Body RoleResponse `json:"body"`
	}, error) {
		role, err := e.Repo.GetRole(ctx, nil, input.RoleID)
		if err != nil {
			return nil, handleError(err)
		}
		deps, err := e.Repo.Dependents(ctx, nil, role.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body RoleResponse `json:"body"`
		}{Body: RoleResponse{Role: role, Dependents: &deps}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-role",
		Method:      http.MethodPatch,
		Path:        "/roles/{role_id}",
		Summary:     "Change a live role's status",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		RoleID string            `path:"role_id"`
		Body   UpdateRoleRequest `json:"body"`
	}) (*struct {
		Body domain.Role `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		role, err := e.UpdateRoleStatus(ctx, input.RoleID, domain.RoleStatus(input.Body.Status), actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Role `json:"body"`
		}{Body: role}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "role-dependents",
		Method:      http.MethodGet,
		Path:        "/roles/{role_id}/dependents",
		Summary:     "Count rows referencing a role",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *rolePath) (*struct {
		Body domain.Dependents `json:"body"`
	}, error) {
		deps, err := e.RoleDependents(ctx, input.RoleID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Dependents `json:"body"`
		}{Body: deps}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "archive-role",
		Method:      http.MethodPost,
		Path:        "/roles/{role_id}/archive",
		Summary:     "Archive a role",
		Description: "Moves every dependent of the role to the placeholder role, marks the role archived, " +
			"records an audit entry and enqueues an AggregateArchived event, all in one transaction.",
		Errors: []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusNotFound, http.StatusInternalServerError},
	}, func(ctx context.Context, input *rolePath) (*struct {
		Body ArchiveResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		res, err := e.ArchiveRole(ctx, input.RoleID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ArchiveResponse `json:"body"`
		}{Body: archiveResponse(res)}, nil
	})
}

func registerTasks(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-task",
		Method:        http.MethodPost,
		Path:          "/tasks",
		Summary:       "Create task",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		Body CreateTaskRequest `json:"body"`
	}) (*struct {
		Body domain.Task `json:"body"`
	}, error) {
		if err := requireBody(ctx); err != nil {
			return nil, err
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		task, err := e.CreateTask(ctx, engine.TaskCreateOptions{
			ID:      input.Body.ID,
			Title:   input.Body.Title,
			RoleID:  input.Body.RoleID,
			Status:  domain.TaskStatus(input.Body.Status),
			ActorID: actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Task `json:"body"`
		}{Body: task}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-tasks",
		Method:      http.MethodGet,
		Path:        "/tasks",
		Summary:     "List tasks",
	}, func(ctx context.Context, input *struct {
		RoleID string `query:"role_id"`
	}) (*struct {
		Body []domain.Task `json:"body"`
	}, error) {
		tasks, err := e.Repo.ListTasks(ctx, input.RoleID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Task `json:"body"`
		}{Body: tasks}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-task-status",
		Method:      http.MethodPatch,
		Path:        "/tasks/{task_id}",
		Summary:     "Set task status",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		TaskID string               `path:"task_id"`
		Body   SetTaskStatusRequest `json:"body"`
	}) (*struct {
		Body domain.Task `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		task, err := e.SetTaskStatus(ctx, input.TaskID, domain.TaskStatus(input.Body.Status), actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Task `json:"body"`
		}{Body: task}, nil
	})
}

func registerLinks(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "link-user",
		Method:      http.MethodPost,
		Path:        "/roles/{role_id}/users",
		Summary:     "Assign a user to a role",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		RoleID string          `path:"role_id"`
		Body   LinkUserRequest `json:"body"`
	}) (*struct {
		Body LinkResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		created, err := e.LinkUser(ctx, input.RoleID, input.Body.UserID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body LinkResponse `json:"body"`
		}{Body: LinkResponse{RoleID: input.RoleID, LinkID: input.Body.UserID, Created: created}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "link-phase",
		Method:      http.MethodPost,
		Path:        "/roles/{role_id}/phases",
		Summary:     "Attach a phase to a role",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		RoleID string           `path:"role_id"`
		Body   LinkPhaseRequest `json:"body"`
	}) (*struct {
		Body LinkResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		created, err := e.LinkPhase(ctx, input.RoleID, input.Body.PhaseID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body LinkResponse `json:"body"`
		}{Body: LinkResponse{RoleID: input.RoleID, LinkID: input.Body.PhaseID, Created: created}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "add-log-assignment",
		Method:        http.MethodPost,
		Path:          "/roles/{role_id}/log-assignments",
		Summary:       "Assign a log form to a role",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		RoleID string                  `path:"role_id"`
		Body   AddLogAssignmentRequest `json:"body"`
	}) (*struct {
		Body domain.LogAssignment `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		a, err := e.AddLogAssignment(ctx, engine.LogAssignmentOptions{
			RoleID:     input.RoleID,
			FormID:     input.Body.FormID,
			Recurrence: input.Body.Recurrence,
			ActorID:    actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.LogAssignment `json:"body"`
		}{Body: a}, nil
	})
}
