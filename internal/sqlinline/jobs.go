package sqlinline

// QClaimJobByType pops the oldest runnable job of one type. SKIP LOCKED lets
// multiple workers pull from the same queue without contention; run_after
// keeps backed-off retries invisible until their delay has elapsed.
const QClaimJobByType = `--sql 7c1f2a94-3d6e-4b0a-9f3c-8e21a7d45b10
with next_job as (
    select id
    from jobs
    where type = $1
      and status in ('pending', 'queued')
      and (run_after is null or run_after <= now())
    order by created_at asc
    for update skip locked
    limit 1
),
claimed as (
    update jobs
    set status = 'queued', attempts = attempts + 1
    where id in (select id from next_job)
    returning id, type, reference_id, status, progress, external_request_id,
              external_status, input_json, output_json, cost_cents,
              error_message, attempts, created_at, started_at, completed_at
)
select * from claimed;
`

// QScheduleRetry returns a failed variant job to the queue with a delay. The
// attempts guard caps queue-level retries independent of in-pipeline fallback.
const QScheduleRetry = `--sql b8e4d1c2-5f7a-4e83-a6b9-0c3d92f18e47
update jobs
set status = 'pending',
    progress = 0,
    error_message = '',
    external_request_id = '',
    external_status = '',
    completed_at = null,
    run_after = now() + ($2 * interval '1 second')
where id = $1
  and status = 'failed'
  and type = 'variant'
  and attempts < $3;
`
