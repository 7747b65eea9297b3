package repository

import (
	"context"
)

const getPlanLimit = `-- name: GetPlanLimit :one
SELECT tier, packs_per_month, max_cards_per_pack, max_questions_per_quiz, max_mindmap_nodes, priority_processing, updated_at
FROM plan_limits
WHERE tier = $1
`

func (q *Queries) GetPlanLimit(ctx context.Context, tier string) (PlanLimit, error) {
	row := q.db.QueryRow(ctx, getPlanLimit, tier)
	var i PlanLimit
	err := row.Scan(
		&i.Tier,
		&i.PacksPerMonth,
		&i.MaxCardsPerPack,
		&i.MaxQuestionsPerQuiz,
		&i.MaxMindmapNodes,
		&i.PriorityProcessing,
		&i.UpdatedAt,
	)
	return i, err
}

const listPlanLimits = `-- name: ListPlanLimits :many
SELECT tier, packs_per_month, max_cards_per_pack, max_questions_per_quiz, max_mindmap_nodes, priority_processing, updated_at
FROM plan_limits
ORDER BY packs_per_month
`

func (q *Queries) ListPlanLimits(ctx context.Context) ([]PlanLimit, error) {
	rows, err := q.db.Query(ctx, listPlanLimits)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []PlanLimit
	for rows.Next() {
		var i PlanLimit
		if err := rows.Scan(
			&i.Tier,
			&i.PacksPerMonth,
			&i.MaxCardsPerPack,
			&i.MaxQuestionsPerQuiz,
			&i.MaxMindmapNodes,
			&i.PriorityProcessing,
			&i.UpdatedAt,
		); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}
