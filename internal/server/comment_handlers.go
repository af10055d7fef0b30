package server

import (
	"postscript/internal/models"
	"postscript/internal/service"

	"github.com/gofiber/fiber/v2"
)

// CreateCommentRequest is the body for creating a comment.
type CreateCommentRequest struct {
	Message string `json:"message" example:"Great write-up"`
	Rating  *int   `json:"rating" example:"5"`
	Status  string `json:"status,omitempty" example:"pending"`
}

// UpdateCommentRequest is the body for replacing a comment's content.
type UpdateCommentRequest struct {
	Message string `json:"message"`
	Rating  *int   `json:"rating"`
}

// UpdateStatusRequest is the body for moderating a comment.
type UpdateStatusRequest struct {
	Status string `json:"status" example:"approved"`
}

// ListComments godoc
// @Summary List comments on a post
// @Description Returns a post's comments, published first (newest first) and unpublished last.
// @Tags comments
// @Produce json
// @Param id path int true "Post ID"
// @Success 200 {array} models.Comment
// @Failure 400 {object} models.ErrorResponse
// @Failure 404 {object} models.ErrorResponse
// @Router /posts/{id}/comments [get]
func (s *Server) ListComments(c *fiber.Ctx) error {
	postID, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}

	comments, err := s.commentService.ListByPost(c.UserContext(), postID)
	if err != nil {
		return respond(c, err)
	}
	return c.JSON(comments)
}

// CreateComment godoc
// @Summary Comment on a post
// @Description Creates a comment. Only administrators may create it in a status other than pending.
// @Tags comments
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path int true "Post ID"
// @Param request body CreateCommentRequest true "Comment"
// @Success 201 {object} models.Comment
// @Failure 400 {object} models.ErrorResponse
// @Failure 401 {object} models.ErrorResponse
// @Failure 403 {object} models.ErrorResponse
// @Failure 404 {object} models.ErrorResponse
// @Router /posts/{id}/comments [post]
func (s *Server) CreateComment(c *fiber.Ctx) error {
	ctx := c.UserContext()

	postID, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}

	var req CreateCommentRequest
	if parseErr := c.BodyParser(&req); parseErr != nil {
		return models.RespondWithError(c, fiber.StatusBadRequest, models.NewValidationError("Invalid request body"))
	}
	if err := validateMessage(req.Message); err != nil {
		return respond(c, err)
	}
	if err := validateRating(req.Rating); err != nil {
		return respond(c, err)
	}
	status := models.CommentStatusPending
	if req.Status != "" {
		if status, err = models.ParseCommentStatus(req.Status); err != nil {
			return respond(c, err)
		}
	}

	actor, err := s.currentUser(c)
	if err != nil {
		return respond(c, err)
	}
	if err := s.policy.CanCreate(actor); err != nil {
		return respond(c, err)
	}
	if status != models.CommentStatusPending {
		if err := s.policy.CanUpdateStatus(actor); err != nil {
			return respond(c, err)
		}
	}

	post, err := s.postRepo.GetByID(ctx, postID)
	if err != nil {
		return respond(c, err)
	}

	created, err := s.commentService.Create(ctx, actor, post, service.CreateCommentInput{
		Message: req.Message,
		Rating:  req.Rating,
		Status:  status,
	})
	if err != nil {
		return respond(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(created)
}

// ShowComment godoc
// @Summary Get a comment
// @Tags comments
// @Produce json
// @Security BearerAuth
// @Param id path int true "Comment ID"
// @Success 200 {object} models.Comment
// @Failure 401 {object} models.ErrorResponse
// @Failure 404 {object} models.ErrorResponse
// @Router /comments/{id} [get]
func (s *Server) ShowComment(c *fiber.Ctx) error {
	id, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}

	actor, err := s.currentUser(c)
	if err != nil {
		return respond(c, err)
	}
	comment, err := s.commentService.Show(c.UserContext(), id)
	if err != nil {
		return respond(c, err)
	}
	if err := s.policy.CanView(actor, comment); err != nil {
		return respond(c, err)
	}
	return c.JSON(comment)
}

// UpdateComment godoc
// @Summary Update a comment's message and rating
// @Tags comments
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path int true "Comment ID"
// @Param request body UpdateCommentRequest true "Content"
// @Success 200 {object} models.Comment
// @Failure 400 {object} models.ErrorResponse
// @Failure 403 {object} models.ErrorResponse
// @Failure 404 {object} models.ErrorResponse
// @Router /comments/{id} [put]
func (s *Server) UpdateComment(c *fiber.Ctx) error {
	ctx := c.UserContext()

	id, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}

	var req UpdateCommentRequest
	if parseErr := c.BodyParser(&req); parseErr != nil {
		return models.RespondWithError(c, fiber.StatusBadRequest, models.NewValidationError("Invalid request body"))
	}
	if err := validateMessage(req.Message); err != nil {
		return respond(c, err)
	}
	if err := validateRating(req.Rating); err != nil {
		return respond(c, err)
	}

	comment, ok := s.authorizedComment(c, id, s.policy.CanUpdate)
	if !ok {
		return nil
	}

	if _, err := s.commentService.UpdateContent(ctx, comment, service.UpdateCommentInput{
		Message: req.Message,
		Rating:  req.Rating,
	}); err != nil {
		return respond(c, err)
	}
	return c.JSON(comment)
}

// UpdateCommentStatus godoc
// @Summary Moderate a comment
// @Description Approving sets published_at; any other status clears it.
// @Tags comments
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path int true "Comment ID"
// @Param request body UpdateStatusRequest true "Status"
// @Success 200 {object} models.Comment
// @Failure 400 {object} models.ErrorResponse
// @Failure 403 {object} models.ErrorResponse
// @Failure 404 {object} models.ErrorResponse
// @Router /comments/{id}/status [patch]
func (s *Server) UpdateCommentStatus(c *fiber.Ctx) error {
	ctx := c.UserContext()

	id, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}

	var req UpdateStatusRequest
	if parseErr := c.BodyParser(&req); parseErr != nil {
		return models.RespondWithError(c, fiber.StatusBadRequest, models.NewValidationError("Invalid request body"))
	}
	status, err := models.ParseCommentStatus(req.Status)
	if err != nil {
		return respond(c, err)
	}

	actor, err := s.currentUser(c)
	if err != nil {
		return respond(c, err)
	}
	if err := s.policy.CanUpdateStatus(actor); err != nil {
		return respond(c, err)
	}

	comment, err := s.commentService.Show(ctx, id)
	if err != nil {
		return respond(c, err)
	}
	if _, err := s.commentService.UpdateStatus(ctx, comment, status); err != nil {
		return respond(c, err)
	}
	return c.JSON(comment)
}

// DeleteComment godoc
// @Summary Delete a comment
// @Description Soft-deletes by default. force=true removes the row permanently and is admin only.
// @Tags comments
// @Produce json
// @Security BearerAuth
// @Param id path int true "Comment ID"
// @Param force query bool false "Permanently delete"
// @Success 200 {object} map[string]string
// @Failure 403 {object} models.ErrorResponse
// @Failure 404 {object} models.ErrorResponse
// @Router /comments/{id} [delete]
func (s *Server) DeleteComment(c *fiber.Ctx) error {
	ctx := c.UserContext()

	id, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}

	comment, ok := s.authorizedComment(c, id, s.policy.CanDelete)
	if !ok {
		return nil
	}

	if c.QueryBool("force", false) {
		actor, _ := s.currentUser(c)
		if err := s.policy.CanForceDelete(actor); err != nil {
			return respond(c, err)
		}
		if err := s.commentService.ForceDelete(ctx, comment); err != nil {
			return respond(c, err)
		}
		return c.JSON(fiber.Map{"message": "Comment permanently deleted"})
	}

	if _, err := s.commentService.Delete(ctx, comment); err != nil {
		return respond(c, err)
	}
	return c.JSON(fiber.Map{"message": "Comment deleted"})
}

// RestoreComment godoc
// @Summary Restore a deleted comment
// @Tags comments
// @Produce json
// @Security BearerAuth
// @Param id path int true "Comment ID"
// @Success 200 {object} models.Comment
// @Failure 403 {object} models.ErrorResponse
// @Failure 404 {object} models.ErrorResponse
// @Router /comments/{id}/restore [post]
func (s *Server) RestoreComment(c *fiber.Ctx) error {
	id, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}

	actor, err := s.currentUser(c)
	if err != nil {
		return respond(c, err)
	}
	if err := s.policy.CanRestore(actor); err != nil {
		return respond(c, err)
	}

	comment, _, err := s.commentService.Restore(c.UserContext(), id)
	if err != nil {
		return respond(c, err)
	}
	return c.JSON(comment)
}

// SearchComments godoc
// @Summary Full-text comment search
// @Description Matches every term against message, author name and post title. Index failures return an empty list.
// @Tags comments
// @Produce json
// @Param q query string true "Search text (at least 2 characters)"
// @Success 200 {array} models.Comment
// @Failure 400 {object} models.ErrorResponse
// @Router /comments/search [get]
func (s *Server) SearchComments(c *fiber.Ctx) error {
	comments, err := s.searchService.Search(c.UserContext(), c.Query("q"))
	if err != nil {
		return respond(c, err)
	}
	return c.JSON(comments)
}

// authorizedComment loads comment id and applies check for the current user.
// On failure it writes the error response and reports false.
func (s *Server) authorizedComment(
	c *fiber.Ctx, id uint, check func(*models.User, *models.Comment) error,
) (*models.Comment, bool) {
	actor, err := s.currentUser(c)
	if err != nil {
		_ = respond(c, err)
		return nil, false
	}
	comment, err := s.commentService.Show(c.UserContext(), id)
	if err != nil {
		_ = respond(c, err)
		return nil, false
	}
	if err := check(actor, comment); err != nil {
		_ = respond(c, err)
		return nil, false
	}
	return comment, true
}
